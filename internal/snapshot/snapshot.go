// Package snapshot reads and writes the tabular CSV snapshot produced by ingestion.
package snapshot

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/timmy/animerec/internal/domain"
)

// Header is the first row of every snapshot. List columns hold JSON arrays.
var Header = []string{"Id", "Title", "Genres", "Themes", "Demographics", "Episodes", "ImageURL"}

// Encode writes records as CSV to w.
func Encode(w io.Writer, records []domain.AnimeRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		row, err := toRow(r)
		if err != nil {
			return fmt.Errorf("record %d: %w", r.MalID, err)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Marshal returns the CSV encoding of records.
func Marshal(records []domain.AnimeRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile atomically replaces path with data.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// Decode parses a snapshot. Rows are returned in file order.
func Decode(r io.Reader) ([]domain.AnimeRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, h := range Header {
		if head[i] != h {
			return nil, fmt.Errorf("unexpected column %d: %q, want %q", i, head[i], h)
		}
	}

	var records []domain.AnimeRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec, err := fromRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
}

// ReadFile loads the snapshot at path.
func ReadFile(path string) ([]domain.AnimeRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func toRow(r domain.AnimeRecord) ([]string, error) {
	lists := make([]string, 0, 4)
	for _, l := range [][]string{r.Titles, r.Genres, r.Themes, r.Demographics} {
		if l == nil {
			l = []string{}
		}
		b, err := json.Marshal(l)
		if err != nil {
			return nil, err
		}
		lists = append(lists, string(b))
	}

	episodes := ""
	if r.Episodes != nil {
		episodes = strconv.Itoa(*r.Episodes)
	}
	return []string{strconv.Itoa(r.MalID), lists[0], lists[1], lists[2], lists[3], episodes, r.ImageURL}, nil
}

func fromRow(row []string) (domain.AnimeRecord, error) {
	var rec domain.AnimeRecord

	id, err := strconv.Atoi(row[0])
	if err != nil {
		return rec, fmt.Errorf("invalid id %q", row[0])
	}
	rec.MalID = id

	targets := []*domain.StringArray{&rec.Titles, &rec.Genres, &rec.Themes, &rec.Demographics}
	for i, t := range targets {
		if err := json.Unmarshal([]byte(row[i+1]), (*[]string)(t)); err != nil {
			return rec, fmt.Errorf("invalid %s column: %w", Header[i+1], err)
		}
	}

	if row[5] != "" {
		eps, err := strconv.Atoi(row[5])
		if err != nil {
			return rec, fmt.Errorf("invalid episodes %q", row[5])
		}
		rec.Episodes = &eps
	}
	rec.ImageURL = row[6]
	rec.FetchedAt = time.Now().UTC()
	return rec, nil
}
