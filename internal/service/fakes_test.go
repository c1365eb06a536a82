package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/repository"
)

type fakePage struct {
	records []domain.AnimeRecord
	hasNext bool
	err     error
}

type fakeSource struct {
	pages   map[int]fakePage
	fetched []int
	onFetch func(page int)
}

func (s *fakeSource) GetSourceID() string    { return "fake" }
func (s *fakeSource) GetDisplayName() string { return "Fake" }

func (s *fakeSource) FetchPage(ctx context.Context, page int) ([]domain.AnimeRecord, bool, error) {
	s.fetched = append(s.fetched, page)
	if s.onFetch != nil {
		s.onFetch(page)
	}
	p, ok := s.pages[page]
	if !ok {
		return nil, false, nil
	}
	return p.records, p.hasNext, p.err
}

type memRecords struct {
	mu      sync.Mutex
	records map[int]domain.AnimeRecord
	order   []int
	err     error
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[int]domain.AnimeRecord)}
}

func (m *memRecords) UpsertBatch(ctx context.Context, records []domain.AnimeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, r := range records {
		if _, ok := m.records[r.MalID]; !ok {
			m.order = append(m.order, r.MalID)
		}
		m.records[r.MalID] = r
	}
	return nil
}

func (m *memRecords) ListAll(ctx context.Context) ([]domain.AnimeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.AnimeRecord, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id])
	}
	return out, nil
}

type memRuns struct {
	mu   sync.Mutex
	runs map[string]domain.PipelineRun
}

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[string]domain.PipelineRun)}
}

func (m *memRuns) Create(ctx context.Context, run *domain.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) Update(ctx context.Context, run *domain.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) get(id string) domain.PipelineRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memStorage) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) GetURL(key string) string {
	return "https://cdn.test/" + key
}

func (m *memStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

// fakeEmbedder returns [len(text), 1, 0] for every input.
type fakeEmbedder struct {
	mu      sync.Mutex
	calls   int
	queries []string
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) GetModel() string   { return "fake" }
func (f *fakeEmbedder) GetDimensions() int { return 3 }

// fakeIndex serves points from the promoted collection and keeps staging
// collections apart until they are promoted.
type fakeIndex struct {
	points     []repository.ChunkPoint
	staged     map[string][]repository.ChunkPoint
	created    []string
	promoted   []string
	dropped    []string
	upsertErr  error
	promoteErr error
	hits       []domain.ScoredChunk
	searchErr  error
	topK       int
}

func (f *fakeIndex) CreateStaging(ctx context.Context, runID string) (string, error) {
	name := "anime_" + runID
	if f.staged == nil {
		f.staged = map[string][]repository.ChunkPoint{}
	}
	f.staged[name] = nil
	f.created = append(f.created, name)
	return name, nil
}

func (f *fakeIndex) UpsertChunks(ctx context.Context, collection string, points []repository.ChunkPoint) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.staged[collection] = append(f.staged[collection], points...)
	return nil
}

func (f *fakeIndex) Promote(ctx context.Context, collection string) error {
	if f.promoteErr != nil {
		return f.promoteErr
	}
	f.points = f.staged[collection]
	delete(f.staged, collection)
	f.promoted = append(f.promoted, collection)
	return nil
}

func (f *fakeIndex) DropCollection(ctx context.Context, name string) error {
	delete(f.staged, name)
	f.dropped = append(f.dropped, name)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]domain.ScoredChunk, error) {
	f.topK = topK
	return f.hits, f.searchErr
}

type fakeLLM struct {
	resp   domain.RecommendationResponse
	err    error
	system string
	user   string
}

func (f *fakeLLM) GenerateStructured(ctx context.Context, system, user, schemaName string, schema map[string]any, out any) error {
	f.system, f.user = system, user
	if f.err != nil {
		return f.err
	}
	*(out.(*domain.RecommendationResponse)) = f.resp
	return nil
}

func intPtr(v int) *int { return &v }

func record(id int, title string, genres ...string) domain.AnimeRecord {
	return domain.AnimeRecord{
		MalID:        id,
		Titles:       domain.StringArray{title},
		Genres:       domain.NormalizeTags(genres),
		Themes:       domain.NormalizeTags(nil),
		Demographics: domain.NormalizeTags(nil),
		Episodes:     intPtr(12),
		ImageURL:     "https://cdn.example/" + title + ".jpg",
	}
}
