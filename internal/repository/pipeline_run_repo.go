package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/timmy/animerec/internal/domain"
)

// PipelineRunRepository records ingest and transform runs.
type PipelineRunRepository struct {
	db *gorm.DB
}

func NewPipelineRunRepository(db *gorm.DB) *PipelineRunRepository {
	return &PipelineRunRepository{db: db}
}

func (r *PipelineRunRepository) Create(ctx context.Context, run *domain.PipelineRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *PipelineRunRepository) Update(ctx context.Context, run *domain.PipelineRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// Latest returns the most recent run of kind, or (nil, nil) when there is none.
func (r *PipelineRunRepository) Latest(ctx context.Context, kind domain.RunKind) (*domain.PipelineRun, error) {
	var run domain.PipelineRun
	err := r.db.WithContext(ctx).
		Where("kind = ?", kind).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
