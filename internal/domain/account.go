package domain

import "time"

// InteractionView is the only interaction type recorded today.
const InteractionView = "view"

// Account is the local profile row kept next to the auth provider's user.
// Passwords never reach this table.
type Account struct {
	UserID    int64     `gorm:"column:user_id;primaryKey;autoIncrement" json:"user_id"`
	Name      string    `gorm:"column:name;type:text" json:"name"`
	Email     string    `gorm:"column:email;type:text;not null;uniqueIndex" json:"email"`
	Gender    string    `gorm:"column:gender;type:text" json:"gender"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (Account) TableName() string {
	return "users"
}

// Anime is a title a user has opened from a recommendation.
type Anime struct {
	AnimeID    int64  `gorm:"column:anime_id;primaryKey;autoIncrement" json:"anime_id"`
	AnimeName  string `gorm:"column:anime_name;type:text;not null;uniqueIndex" json:"anime_name"`
	AnimeGenre string `gorm:"column:anime_genre;type:text" json:"anime_genre"`
}

func (Anime) TableName() string {
	return "animes"
}

// Interaction links an account to an anime it interacted with.
type Interaction struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID          int64     `gorm:"column:user_id;not null;index" json:"user_id"`
	AnimeID         int64     `gorm:"column:anime_id;not null;index" json:"anime_id"`
	InteractionType string    `gorm:"column:interaction_type;type:text;not null" json:"interaction_type"`
	CreatedAt       time.Time `gorm:"column:created_at;index" json:"created_at"`
}

func (Interaction) TableName() string {
	return "useranimeinteractions"
}

// ViewedAnime is one entry of a user's viewing history.
type ViewedAnime struct {
	AnimeName  string    `json:"anime_name"`
	AnimeGenre string    `json:"anime_genre"`
	ViewedAt   time.Time `json:"viewed_at"`
}
