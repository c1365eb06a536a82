package jikan

import (
	"strings"
	"time"

	"github.com/timmy/animerec/internal/domain"
)

type topAnimeResponse struct {
	Pagination struct {
		LastVisiblePage int  `json:"last_visible_page"`
		HasNextPage     bool `json:"has_next_page"`
	} `json:"pagination"`
	Data []anime `json:"data"`
}

// hasNext trusts has_next_page but never walks past last_visible_page.
func (r *topAnimeResponse) hasNext(page int) bool {
	if !r.Pagination.HasNextPage {
		return false
	}
	return r.Pagination.LastVisiblePage == 0 || page < r.Pagination.LastVisiblePage
}

type anime struct {
	MalID        int      `json:"mal_id"`
	Images       images   `json:"images"`
	Titles       []title  `json:"titles"`
	Episodes     *int     `json:"episodes"`
	Genres       []entity `json:"genres"`
	Themes       []entity `json:"themes"`
	Demographics []entity `json:"demographics"`
}

type title struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

type entity struct {
	MalID int    `json:"mal_id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
}

type imageSet struct {
	ImageURL      string `json:"image_url"`
	SmallImageURL string `json:"small_image_url"`
	LargeImageURL string `json:"large_image_url"`
}

type images struct {
	JPG  imageSet `json:"jpg"`
	WebP imageSet `json:"webp"`
}

// cover prefers the large webp image, then the large jpg, then the default jpg.
func (i images) cover() string {
	for _, u := range []string{i.WebP.LargeImageURL, i.JPG.LargeImageURL, i.JPG.ImageURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

func (r *topAnimeResponse) records() []domain.AnimeRecord {
	now := time.Now().UTC()
	out := make([]domain.AnimeRecord, 0, len(r.Data))
	for _, a := range r.Data {
		titles := make(domain.StringArray, 0, len(a.Titles))
		for _, t := range a.Titles {
			if s := strings.TrimSpace(t.Title); s != "" {
				titles = append(titles, s)
			}
		}
		out = append(out, domain.AnimeRecord{
			MalID:        a.MalID,
			Titles:       titles,
			Genres:       domain.NormalizeTags(names(a.Genres)),
			Themes:       domain.NormalizeTags(names(a.Themes)),
			Demographics: domain.NormalizeTags(names(a.Demographics)),
			Episodes:     a.Episodes,
			ImageURL:     a.Images.cover(),
			FetchedAt:    now,
		})
	}
	return out
}

func names(es []entity) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Name)
	}
	return out
}
