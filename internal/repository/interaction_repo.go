package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/timmy/animerec/internal/domain"
)

// InteractionRepository handles the animes and useranimeinteractions tables.
type InteractionRepository struct {
	db *gorm.DB
}

func NewInteractionRepository(db *gorm.DB) *InteractionRepository {
	return &InteractionRepository{db: db}
}

// GetOrCreateAnime returns the anime row named name, creating it with genre
// when missing. An existing row keeps its genre unless it was empty.
func (r *InteractionRepository) GetOrCreateAnime(ctx context.Context, name, genre string) (*domain.Anime, error) {
	db := r.db.WithContext(ctx)

	anime := domain.Anime{AnimeName: name, AnimeGenre: genre}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "anime_name"}},
		DoNothing: true,
	}).Create(&anime).Error; err != nil {
		return nil, err
	}

	var stored domain.Anime
	if err := db.Where("anime_name = ?", name).First(&stored).Error; err != nil {
		return nil, err
	}
	if stored.AnimeGenre == "" && genre != "" {
		if err := db.Model(&stored).Update("anime_genre", genre).Error; err != nil {
			return nil, err
		}
	}
	return &stored, nil
}

func (r *InteractionRepository) Create(ctx context.Context, interaction *domain.Interaction) error {
	return r.db.WithContext(ctx).Create(interaction).Error
}

// ListViews returns the most recent views of userID, newest first.
func (r *InteractionRepository) ListViews(ctx context.Context, userID int64, limit int) ([]domain.ViewedAnime, error) {
	var rows []domain.ViewedAnime
	err := r.db.WithContext(ctx).
		Table("useranimeinteractions AS i").
		Select("a.anime_name, a.anime_genre, i.created_at AS viewed_at").
		Joins("JOIN animes AS a ON a.anime_id = i.anime_id").
		Where("i.user_id = ? AND i.interaction_type = ?", userID, domain.InteractionView).
		Order("i.created_at DESC, i.id DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
