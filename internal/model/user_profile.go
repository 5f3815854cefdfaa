package model

import (
	"time"

	"gorm.io/datatypes"
)

// Preferences 用户偏好，以 JSON 存储在 user_profile.preferences 列
type Preferences struct {
	BackendAccountID *int64     `json:"backendAccountId,omitempty"`
	BackendSyncedAt  *time.Time `json:"backendSyncedAt,omitempty"`
	AutoSync         bool       `json:"autoSync,omitempty"`
}

// UserProfile 用户资料表
// credits 是远端可用余额（积分单位）的本地镜像，只能通过写账操作修改
type UserProfile struct {
	ID                 int64                           `gorm:"primaryKey;autoIncrement" json:"id"`
	Email              string                          `gorm:"type:varchar(191);uniqueIndex" json:"email"`
	Credits            int64                           `gorm:"not null;default:0" json:"credits"`
	TotalCreditsEarned int64                           `gorm:"not null;default:0" json:"total_credits_earned"`
	TotalCreditsSpent  int64                           `gorm:"not null;default:0" json:"total_credits_spent"`
	Plan               string                          `gorm:"type:varchar(20);not null;default:free" json:"plan"`
	SubscriptionStatus string                          `gorm:"type:varchar(20);not null;default:inactive" json:"subscription_status"`
	Preferences        datatypes.JSONType[Preferences] `json:"preferences"`
	Version            int                             `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt          time.Time                       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time                       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserProfile) TableName() string {
	return "user_profile"
}

// Prefs 返回偏好的副本
func (u *UserProfile) Prefs() Preferences {
	return u.Preferences.Data()
}

// BackendAccountID 关联的远端账户，未关联时 ok 为 false
func (u *UserProfile) BackendAccountID() (int64, bool) {
	p := u.Prefs()
	if p.BackendAccountID == nil || *p.BackendAccountID <= 0 {
		return 0, false
	}
	return *p.BackendAccountID, true
}
