package model

import (
	"time"

	"gorm.io/datatypes"
)

// ============================================================================
// 交易类型常量
// ============================================================================

const (
	TransactionTypeSyncAdd           = "credit_sync_add"    // 同步补增
	TransactionTypeSyncDeduct        = "credit_sync_deduct" // 同步扣减
	TransactionTypePurchase          = "credit_purchase"    // 支付购买额度
	TransactionTypePlanChange        = "plan_change"        // 套餐变更
	TransactionTypeDebugSubscription = "debug_subscription" // 调试订阅
)

const (
	TransactionStatusCompleted = "completed"
	TransactionStatusPartial   = "partial" // 本地已写账，远端调用失败
	TransactionStatusFailed    = "failed"
)

// ============================================================================
// 额度流水实体
// ============================================================================

// Transaction 额度流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不删除；只允许在同一次操作内把 completed 改为 partial/failed
// 2. gateway_txn_id 是支付去重的唯一依据，存储层唯一索引
// 3. metadata 记录变动前后余额和关联 ID，便于对账
type Transaction struct {
	ID            int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64             `gorm:"index;not null" json:"user_id"`
	Type          string            `gorm:"type:varchar(32);index;not null" json:"type"`
	Amount        int64             `gorm:"not null" json:"amount"` // 正数入账，负数出账
	Description   string            `gorm:"type:varchar(256)" json:"description"`
	Status        string            `gorm:"type:varchar(16);not null;default:completed" json:"status"`
	GatewayTxnID  *string           `gorm:"type:varchar(128);uniqueIndex" json:"gateway_txn_id,omitempty"`
	Metadata      datatypes.JSONMap `json:"metadata"`
	CreatedAt     time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "credit_transaction"
}

// CanMarkAs 流水状态只能从 completed 改为 partial 或 failed
func (t *Transaction) CanMarkAs(status string) bool {
	return t.Status == TransactionStatusCompleted &&
		(status == TransactionStatusPartial || status == TransactionStatusFailed)
}
