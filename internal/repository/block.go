package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"lock-points-system/internal/models"
)

// BlockRepository 保存锁仓监听器的进度游标，每条链一行
// 监听器重启后从这里继续；游标之前遗漏的锁仓由回填任务补记
type BlockRepository struct {
	db *gorm.DB
}

func NewBlockRepository(db *gorm.DB) *BlockRepository {
	return &BlockRepository{db: db}
}

// GetLastProcessed 返回已处理到的区块号，链没有游标时返回 0
func (r *BlockRepository) GetLastProcessed(ctx context.Context, chainName string) (int64, error) {
	cursor, err := findCursor(r.db.WithContext(ctx), chainName)
	if err != nil || cursor == nil {
		return 0, err
	}
	return cursor.BlockNumber, nil
}

// MarkProcessed 推进游标，小于等于当前值的区块号被忽略
func (r *BlockRepository) MarkProcessed(ctx context.Context, chainName string, blockNumber int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cursor, err := findCursor(tx.Clauses(clause.Locking{Strength: "UPDATE"}), chainName)
		if err != nil {
			return err
		}

		if cursor == nil {
			return tx.Create(&models.ProcessedBlock{
				ChainName:   chainName,
				BlockNumber: blockNumber,
			}).Error
		}
		if blockNumber <= cursor.BlockNumber {
			return nil
		}
		return tx.Model(cursor).Update("block_number", blockNumber).Error
	})
}

func findCursor(db *gorm.DB, chainName string) (*models.ProcessedBlock, error) {
	var cursor models.ProcessedBlock
	err := db.Where("chain_name = ?", chainName).First(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cursor, nil
}
