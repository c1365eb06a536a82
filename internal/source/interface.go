package source

import (
	"context"

	"github.com/timmy/animerec/internal/domain"
)

// AnimeSource is a paged catalogue of anime records.
type AnimeSource interface {
	// GetSourceID returns a stable identifier used in logs and run records.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	GetDisplayName() string

	// FetchPage returns the records of one 1-based page and whether more pages follow.
	FetchPage(ctx context.Context, page int) (records []domain.AnimeRecord, hasNext bool, err error)
}
