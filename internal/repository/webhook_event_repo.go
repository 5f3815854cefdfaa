package repository

import (
	"context"
	"errors"
	"time"

	"creditsync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Claim 抢占一个回调事件的处理权
//
// 依赖 (provider, event_id) 唯一索引：插入成功说明是第一次投递；
// 已存在且处理过 -> 重复投递；
// 已存在且上次处理失败，或抢占已超过租约仍未完成 -> 以 attempts 为条件更新抢占重试；
// 其余情况（另一个请求正在处理）视为重复
func (r *WebhookEventRepository) Claim(ctx context.Context, event *model.WebhookEvent, lease time.Duration) (bool, *model.WebhookEvent, error) {
	now := time.Now()
	event.ClaimedAt = &now
	event.Attempts = 1

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, nil, result.Error
	}
	if result.RowsAffected == 1 {
		return true, event, nil
	}

	existing, err := r.GetByProviderEventID(ctx, event.Provider, event.EventID)
	if err != nil {
		return false, nil, err
	}
	if existing == nil || existing.Processed {
		return false, existing, nil
	}
	if existing.Error == "" && !leaseExpired(existing, now, lease) {
		return false, existing, nil
	}

	retry := r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ? AND processed = ? AND attempts = ?", existing.ID, false, existing.Attempts).
		Updates(map[string]interface{}{
			"error":      "",
			"payload":    event.Payload,
			"claimed_at": &now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if retry.Error != nil {
		return false, nil, retry.Error
	}
	if retry.RowsAffected == 0 {
		return false, existing, nil
	}

	existing.Error = ""
	existing.Payload = event.Payload
	existing.ClaimedAt = &now
	existing.Attempts++
	return true, existing, nil
}

// leaseExpired 处理中的事件超过租约未完成，视为处理方已经失联
func leaseExpired(event *model.WebhookEvent, now time.Time, lease time.Duration) bool {
	if lease <= 0 {
		return false
	}
	return event.ClaimedAt == nil || event.ClaimedAt.Before(now.Add(-lease))
}

func (r *WebhookEventRepository) GetByProviderEventID(ctx context.Context, provider, eventID string) (*model.WebhookEvent, error) {
	var event model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// MarkProcessed 标记事件已处理，和业务写账放在同一个事务里
func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, tx *gorm.DB, id int64) error {
	if tx == nil {
		tx = r.db
	}
	now := time.Now()
	return tx.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed":    true,
			"processed_at": &now,
			"error":        "",
		}).Error
}

// MarkFailed 记录处理失败原因，之后重新投递的同一事件可以再次抢占
func (r *WebhookEventRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	if reason == "" {
		reason = "unknown error"
	}
	return r.db.WithContext(ctx).
		Model(&model.WebhookEvent{}).
		Where("id = ? AND processed = ?", id, false).
		Update("error", reason).Error
}

// ListFailed 列出等待重试的事件：处理失败的，以及抢占超过租约仍未完成的
func (r *WebhookEventRepository) ListFailed(ctx context.Context, lease time.Duration, limit int) ([]*model.WebhookEvent, error) {
	stalled := r.db.Where("error <> ?", "")
	if lease > 0 {
		stalled = stalled.Or("claimed_at IS NULL OR claimed_at < ?", time.Now().Add(-lease))
	}

	var events []*model.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processed = ?", false).
		Where(stalled).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}
