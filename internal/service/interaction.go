package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/timmy/animerec/internal/auth"
	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/logger"
)

const defaultHistoryLimit = 20

// InteractionStore persists anime views.
type InteractionStore interface {
	GetOrCreateAnime(ctx context.Context, name, genre string) (*domain.Anime, error)
	Create(ctx context.Context, interaction *domain.Interaction) error
	ListViews(ctx context.Context, userID int64, limit int) ([]domain.ViewedAnime, error)
}

// ErrMissingTitle is returned when a view names no anime.
var ErrMissingTitle = errors.New("title is required")

// InteractionService records which recommended anime a user opened.
type InteractionService struct {
	accounts     AccountStore
	interactions InteractionStore
}

func NewInteractionService(accounts AccountStore, interactions InteractionStore) *InteractionService {
	return &InteractionService{accounts: accounts, interactions: interactions}
}

// RecordView stores a view of title by the user behind id.
func (s *InteractionService) RecordView(ctx context.Context, id *auth.Identity, title, genre string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrMissingTitle
	}

	account, err := s.account(ctx, id)
	if err != nil {
		return err
	}

	anime, err := s.interactions.GetOrCreateAnime(ctx, title, strings.TrimSpace(genre))
	if err != nil {
		return err
	}

	if err := s.interactions.Create(ctx, &domain.Interaction{
		UserID:          account.UserID,
		AnimeID:         anime.AnimeID,
		InteractionType: domain.InteractionView,
		CreatedAt:       time.Now(),
	}); err != nil {
		return err
	}

	logger.With(logger.Fields{
		logger.FieldUserID: account.UserID,
		"anime_id":         anime.AnimeID,
	}).Debug(ctx, "Recorded view")
	return nil
}

// ListViews returns the user's most recent views, newest first.
func (s *InteractionService) ListViews(ctx context.Context, id *auth.Identity, limit int) ([]domain.ViewedAnime, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	account, err := s.account(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.interactions.ListViews(ctx, account.UserID, limit)
}

func (s *InteractionService) account(ctx context.Context, id *auth.Identity) (*domain.Account, error) {
	account, err := s.accounts.GetByEmail(ctx, normalizeEmail(id.Email))
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}
