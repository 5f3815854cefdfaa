// Package credit 余额计算、同步决策与套餐映射，均为无副作用的纯函数
package credit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PointsPerUnit 1000 积分（或额度）折合 1 个余额单位（$）
const PointsPerUnit = 1000

var pointsPerUnit = decimal.NewFromInt(PointsPerUnit)

// Wallet 远端账户的积分钱包
type Wallet struct {
	PointRemain int64
	PointFrozen int64
	PointUsed   int64
	// AvailableCredits 远端直接给出的可用额度汇总，为 nil 时由额度包自行推导
	AvailableCredits *int64
}

// CreditPack 远端账户的额度包
type CreditPack struct {
	ID          int64
	Capacity    int64
	Used        int64
	Frozen      int64
	Active      bool
	ExpiredAt   time.Time
	Description string
}

// Remaining 额度包剩余额度，上游数据异常时截断为 0
func (p CreditPack) Remaining() int64 {
	r := p.Capacity - p.Used - p.Frozen
	if r < 0 {
		return 0
	}
	return r
}

// Usable 额度包是否计入可用余额：处于激活状态且未过期
func (p CreditPack) Usable(now time.Time) bool {
	if !p.Active {
		return false
	}
	return p.ExpiredAt.IsZero() || p.ExpiredAt.After(now)
}

// BalanceInfo 归一化后的余额
type BalanceInfo struct {
	RemainingCredits int64 `json:"remainingCredits"`
	RemainingPoints  int64 `json:"remainingPoints"`
	FrozenCredits    int64 `json:"frozenCredits"`
	FrozenPoints     int64 `json:"frozenPoints"`
	UsedCredits      int64 `json:"usedCredits"`
	UsedPoints       int64 `json:"usedPoints"`

	// AvailableUnits 可用余额（积分单位），本地 credits 字段镜像的就是这个值
	AvailableUnits int64 `json:"availableUnits"`

	TotalBalance     decimal.Decimal `json:"totalBalance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`

	PackCount       int   `json:"packCount"`
	ActivePackCount int   `json:"activePackCount"`
	TotalCapacity   int64 `json:"totalCapacity"`

	// Anomalies 数据质量问题，只用于记录日志，不影响计算结果
	Anomalies []string `json:"anomalies,omitempty"`
}

// Calculate 将钱包和额度包换算成余额
func Calculate(wallet Wallet, packs []CreditPack, now time.Time) BalanceInfo {
	info := BalanceInfo{
		RemainingPoints: wallet.PointRemain,
		FrozenPoints:    wallet.PointFrozen,
		UsedPoints:      wallet.PointUsed,
		PackCount:       len(packs),
	}

	var derived int64
	for _, p := range packs {
		info.TotalCapacity += p.Capacity
		if p.Used+p.Frozen > p.Capacity {
			info.Anomalies = append(info.Anomalies,
				fmt.Sprintf("pack %d: used(%d)+frozen(%d) > capacity(%d)", p.ID, p.Used, p.Frozen, p.Capacity))
		}
		if !p.Usable(now) {
			continue
		}
		info.ActivePackCount++
		derived += p.Remaining()
		info.FrozenCredits += p.Frozen
		info.UsedCredits += p.Used
	}

	info.RemainingCredits = derived
	if wallet.AvailableCredits != nil {
		if *wallet.AvailableCredits != derived {
			info.Anomalies = append(info.Anomalies,
				fmt.Sprintf("available_credits(%d) != derived(%d)", *wallet.AvailableCredits, derived))
		}
		info.RemainingCredits = *wallet.AvailableCredits
	}

	total := info.RemainingCredits + info.RemainingPoints
	available := total - info.FrozenCredits - info.FrozenPoints
	if available < 0 {
		info.Anomalies = append(info.Anomalies,
			fmt.Sprintf("available balance below zero (%d), clamped", available))
		available = 0
	}

	info.AvailableUnits = available
	info.TotalBalance = decimal.NewFromInt(total).Div(pointsPerUnit)
	info.AvailableBalance = decimal.NewFromInt(available).Div(pointsPerUnit)
	return info
}
