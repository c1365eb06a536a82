package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/timmy/animerec/internal/domain"
)

// AccountRepository handles the users profile table.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// GetByEmail returns the account with email, or (nil, nil) when none exists.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var account domain.Account
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// DeleteByEmail removes the account and its interactions. It reports whether a row was deleted.
func (r *AccountRepository) DeleteByEmail(ctx context.Context, email string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account domain.Account
		if err := tx.Where("email = ?", email).First(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("user_id = ?", account.UserID).Delete(&domain.Interaction{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&account).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}
