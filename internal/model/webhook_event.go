package model

import (
	"time"
)

const (
	ProviderStripe = "stripe"
	ProviderSquare = "square"
)

// WebhookEvent 支付回调事件，(provider, event_id) 唯一，重复投递直接忽略
type WebhookEvent struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider    string     `gorm:"type:varchar(20);not null;uniqueIndex:ux_webhook_event_provider_event,priority:1" json:"provider"`
	EventID     string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_event_provider_event,priority:2" json:"event_id"`
	EventType   string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload     string     `gorm:"type:text" json:"payload"`
	Processed   bool       `gorm:"not null;default:false;index" json:"processed"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       string     `gorm:"type:text" json:"error"`
	// ClaimedAt 最近一次抢占处理权的时间，超过租约仍未处理完的事件可以被重新抢占
	ClaimedAt *time.Time `gorm:"index" json:"claimed_at,omitempty"`
	// Attempts 抢占次数，重新抢占时作为条件更新的版本号
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WebhookEvent) TableName() string {
	return "webhook_event"
}
