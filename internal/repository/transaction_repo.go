package repository

import (
	"context"
	"errors"

	"creditsync/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrTransactionImmutable = errors.New("流水状态不允许修改")

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetByGatewayTxnID 按支付渠道流水号查询，不存在返回 nil, nil
func (r *TransactionRepository) GetByGatewayTxnID(ctx context.Context, tx *gorm.DB, gatewayTxnID string) (*model.Transaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.Transaction
	err := tx.WithContext(ctx).Where("gateway_txn_id = ?", gatewayTxnID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// MarkStatus 把 completed 流水改为 partial/failed，并合并额外的 metadata
//
// 只在产生这条流水的同一次操作里调用（例如本地写账成功、远端调用失败）
func (r *TransactionRepository) MarkStatus(ctx context.Context, trans *model.Transaction, status string, extra map[string]interface{}) error {
	if !trans.CanMarkAs(status) {
		return ErrTransactionImmutable
	}

	metadata := datatypes.JSONMap{}
	for k, v := range trans.Metadata {
		metadata[k] = v
	}
	for k, v := range extra {
		metadata[k] = v
	}

	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", trans.ID, model.TransactionStatusCompleted).
		Updates(map[string]interface{}{
			"status":   status,
			"metadata": metadata,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionImmutable
	}

	trans.Status = status
	trans.Metadata = metadata
	return nil
}
