package repository

import (
	"context"
	"errors"

	"creditsync/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound    = errors.New("用户不存在")
	ErrBalanceConflict = errors.New("余额已被并发修改，请重新读取后重试")
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *UserRepository) Create(ctx context.Context, user *model.UserProfile) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, tx *gorm.DB, userID int64) (*model.UserProfile, error) {
	var user model.UserProfile
	err := r.conn(tx).WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListAfter 按 ID 游标分页读取用户，供后台任务批量扫描
func (r *UserRepository) ListAfter(ctx context.Context, afterID int64, limit int) ([]*model.UserProfile, error) {
	var users []*model.UserProfile
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	return users, err
}

// BalanceUpdate 一次余额写入，ExpectedCredits/ExpectedVersion 是读取时的快照
type BalanceUpdate struct {
	UserID          int64
	ExpectedCredits int64
	ExpectedVersion int
	NewCredits      int64
	Earned          int64
	Spent           int64
	Preferences     *model.Preferences
	// Plan/SubscriptionStatus 为空表示不修改
	Plan               string
	SubscriptionStatus string
}

// ApplyBalance 条件更新余额（CAS）
//
// 只有 credits 和 version 都与快照一致时才会写入，否则返回 ErrBalanceConflict，
// 调用方需要重新读取余额并重新计算差额，不能直接重放旧差额
func (r *UserRepository) ApplyBalance(ctx context.Context, tx *gorm.DB, u BalanceUpdate) error {
	updates := map[string]interface{}{
		"credits": u.NewCredits,
		"version": gorm.Expr("version + 1"),
	}
	if u.Earned > 0 {
		updates["total_credits_earned"] = gorm.Expr("total_credits_earned + ?", u.Earned)
	}
	if u.Spent > 0 {
		updates["total_credits_spent"] = gorm.Expr("total_credits_spent + ?", u.Spent)
	}
	if u.Preferences != nil {
		updates["preferences"] = datatypes.NewJSONType(*u.Preferences)
	}
	if u.Plan != "" {
		updates["plan"] = u.Plan
	}
	if u.SubscriptionStatus != "" {
		updates["subscription_status"] = u.SubscriptionStatus
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.UserProfile{}).
		Where("id = ? AND credits = ? AND version = ?", u.UserID, u.ExpectedCredits, u.ExpectedVersion).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return r.missOrConflict(ctx, tx, u.UserID)
	}
	return nil
}

// LinkBackendAccount 关联远端账户
func (r *UserRepository) LinkBackendAccount(ctx context.Context, userID, accountID int64) error {
	user, err := r.GetByID(ctx, nil, userID)
	if err != nil {
		return err
	}
	prefs := user.Prefs()
	prefs.BackendAccountID = &accountID

	result := r.db.WithContext(ctx).
		Model(&model.UserProfile{}).
		Where("id = ? AND version = ?", userID, user.Version).
		Updates(map[string]interface{}{
			"preferences": datatypes.NewJSONType(prefs),
			"version":     gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceConflict
	}
	return nil
}

func (r *UserRepository) missOrConflict(ctx context.Context, tx *gorm.DB, userID int64) error {
	var count int64
	if err := r.conn(tx).WithContext(ctx).Model(&model.UserProfile{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return ErrBalanceConflict
}
