package domain

import (
	"database/sql/driver"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// UnknownTag replaces empty genre, theme and demographic lists.
const UnknownTag = "Unknown"

// StringArray stores a string slice as a JSON text column.
type StringArray []string

// Value implements driver.Valuer.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *StringArray) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = StringArray{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("failed to scan StringArray")
	}
	return json.Unmarshal(raw, (*[]string)(a))
}

// AnimeRecord is one flattened entry of the top-anime listing. It is both a
// row of the CSV snapshot and a row of the anime_records table.
type AnimeRecord struct {
	MalID        int         `gorm:"primaryKey;autoIncrement:false" json:"mal_id"`
	Titles       StringArray `gorm:"type:text" json:"titles"`
	Genres       StringArray `gorm:"type:text" json:"genres"`
	Themes       StringArray `gorm:"type:text" json:"themes"`
	Demographics StringArray `gorm:"type:text" json:"demographics"`
	Episodes     *int        `json:"episodes"`
	ImageURL     string      `gorm:"type:text" json:"image_url"`
	FetchedAt    time.Time   `json:"fetched_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (AnimeRecord) TableName() string {
	return "anime_records"
}

// NormalizeTags returns tags with blanks removed, or ["Unknown"] when nothing is left.
func NormalizeTags(tags []string) StringArray {
	out := make(StringArray, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return StringArray{UnknownTag}
	}
	return out
}

// PrimaryTitle returns the first title, which Jikan lists as the default one.
func (r *AnimeRecord) PrimaryTitle() string {
	if len(r.Titles) == 0 {
		return ""
	}
	return r.Titles[0]
}

// Demographic returns the record's demographic tag.
func (r *AnimeRecord) Demographic() string {
	if len(r.Demographics) == 0 {
		return UnknownTag
	}
	return r.Demographics[0]
}

// Document is the textual projection of an AnimeRecord used for embedding.
type Document struct {
	ID          string
	MalID       int
	Content     string
	Title       string
	Titles      []string
	Genres      []string
	Demographic string
	ImageURL    string
}

// ToDocument renders the record as
//
//	Id: 5114
//	Title: Fullmetal Alchemist: Brotherhood, 鋼の錬金術師
//	Genre: Action, Adventure
//	Theme: Military
//	Episodes: 64
func (r *AnimeRecord) ToDocument() Document {
	episodes := UnknownTag
	if r.Episodes != nil {
		episodes = strconv.Itoa(*r.Episodes)
	}

	var b strings.Builder
	b.WriteString("Id: " + strconv.Itoa(r.MalID) + "\n")
	b.WriteString("Title: " + strings.Join(r.Titles, ", ") + "\n")
	b.WriteString("Genre: " + strings.Join(r.Genres, ", ") + "\n")
	b.WriteString("Theme: " + strings.Join(r.Themes, ", ") + "\n")
	b.WriteString("Episodes: " + episodes)

	return Document{
		ID:          strconv.Itoa(r.MalID),
		MalID:       r.MalID,
		Content:     b.String(),
		Title:       r.PrimaryTitle(),
		Titles:      append([]string(nil), r.Titles...),
		Genres:      append([]string(nil), r.Genres...),
		Demographic: r.Demographic(),
		ImageURL:    r.ImageURL,
	}
}

// Chunk is a piece of a Document small enough to embed.
type Chunk struct {
	DocumentID  string
	MalID       int
	Index       int
	Content     string
	Title       string
	Titles      []string
	Genres      []string
	Demographic string
	ImageURL    string
}

// ScoredChunk is a Chunk returned by a similarity search.
type ScoredChunk struct {
	Chunk
	Score float32
}
