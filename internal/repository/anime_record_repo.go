package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/animerec/internal/domain"
)

// AnimeRecordRepository persists ingested catalogue records.
type AnimeRecordRepository struct {
	db *gorm.DB
}

func NewAnimeRecordRepository(db *gorm.DB) *AnimeRecordRepository {
	return &AnimeRecordRepository{db: db}
}

// UpsertBatch inserts records, updating existing rows with the same MAL id.
func (r *AnimeRecordRepository) UpsertBatch(ctx context.Context, records []domain.AnimeRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mal_id"}},
		UpdateAll: true,
	}).CreateInBatches(records, 100).Error
}

// ListAll returns every record ordered by MAL id.
func (r *AnimeRecordRepository) ListAll(ctx context.Context) ([]domain.AnimeRecord, error) {
	var records []domain.AnimeRecord
	err := r.db.WithContext(ctx).Order("mal_id ASC").Find(&records).Error
	return records, err
}

func (r *AnimeRecordRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.AnimeRecord{}).Count(&n).Error
	return n, err
}
