package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/logger"
)

const (
	defaultVectorDimension = 1024
	upsertBatchSize        = 128
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool
	VectorDimension int
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository stores anime chunks and their embeddings. Queries go through
// an alias; each rebuild fills a fresh collection and then re-points the alias.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string // alias served to queries
	vectorDimension int
}

// NewQdrantRepository dials Qdrant over gRPC. Local instances use plaintext;
// an API key or UseTLS switches to TLS 1.3 with the key sent as metadata.
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	dim := cfg.VectorDimension
	if dim <= 0 {
		dim = defaultVectorDimension
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS13,
		})))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: dim,
	}, nil
}

func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

func (r *QdrantRepository) CollectionName() string {
	return r.collectionName
}

// StagingName is the collection a rebuild for runID writes into.
func StagingName(alias, runID string) string {
	return alias + "_" + strings.ReplaceAll(runID, "-", "")
}

// EnsureCollection makes sure queries have something to read. A missing alias
// is pointed at a new empty collection; an existing target must match the
// embedding dimension. A plain collection still named like the alias is left
// in place until the next rebuild replaces it.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	target, err := r.aliasTarget(ctx)
	if err != nil {
		return err
	}
	if target == "" {
		target = r.collectionName
	}

	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: target,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return fmt.Errorf("collection %s has vector size %d, expected %d", target, size, r.vectorDimension)
		}
		return nil
	}

	staging, err := r.CreateStaging(ctx, uuid.NewString())
	if err != nil {
		return err
	}
	return r.Promote(ctx, staging)
}

// CreateStaging creates the empty collection a rebuild for runID fills. A
// leftover collection of the same name is dropped first.
func (r *QdrantRepository) CreateStaging(ctx context.Context, runID string) (string, error) {
	name := StagingName(r.collectionName, runID)
	if err := r.DropCollection(ctx, name); err != nil {
		return "", err
	}
	if err := r.createCollection(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

// Promote atomically re-points the alias at collection and then drops the
// collection it used to serve. Once the alias has moved the call succeeds;
// a failed cleanup only leaves an orphan behind.
func (r *QdrantRepository) Promote(ctx context.Context, collection string) error {
	previous, err := r.aliasTarget(ctx)
	if err != nil {
		return err
	}
	if previous == collection {
		return nil
	}

	var actions []*pb.AliasOperations
	if previous != "" {
		actions = append(actions, &pb.AliasOperations{
			Action: &pb.AliasOperations_DeleteAlias{
				DeleteAlias: &pb.DeleteAlias{AliasName: r.collectionName},
			},
		})
	} else if err := r.DropCollection(ctx, r.collectionName); err != nil {
		// A plain collection under the alias name blocks the alias
		return err
	}
	actions = append(actions, &pb.AliasOperations{
		Action: &pb.AliasOperations_CreateAlias{
			CreateAlias: &pb.CreateAlias{CollectionName: collection, AliasName: r.collectionName},
		},
	})

	if _, err := r.collectClient.UpdateAliases(ctx, &pb.ChangeAliases{Actions: actions}); err != nil {
		return fmt.Errorf("failed to point alias %s at %s: %w", r.collectionName, collection, err)
	}

	if previous != "" {
		if err := r.DropCollection(ctx, previous); err != nil {
			logger.CtxWarn(ctx, "Alias %s moved to %s but dropping %s failed: %v", r.collectionName, collection, previous, err)
		}
	}
	return nil
}

// DropCollection deletes a collection. A missing collection is not an error.
func (r *QdrantRepository) DropCollection(ctx context.Context, name string) error {
	_, err := r.collectClient.Delete(ctx, &pb.DeleteCollection{
		CollectionName: name,
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to drop collection %s: %w", name, err)
	}
	return nil
}

// aliasTarget returns the collection the alias points at, or "" when the
// alias does not exist.
func (r *QdrantRepository) aliasTarget(ctx context.Context) (string, error) {
	resp, err := r.collectClient.ListAliases(ctx, &pb.ListAliasesRequest{})
	if err != nil {
		return "", fmt.Errorf("failed to list aliases: %w", err)
	}
	for _, a := range resp.GetAliases() {
		if a.GetAliasName() == r.collectionName {
			return a.GetCollectionName(), nil
		}
	}
	return "", nil
}

func (r *QdrantRepository) createCollection(ctx context.Context, name string) error {
	_, err := r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:           optionalUint64(16),
			EfConstruct: optionalUint64(128),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", name, err)
	}
	return nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if size := vectors.GetParams().GetSize(); size > 0 {
		return size, true
	}
	for _, p := range vectors.GetParamsMap().GetMap() {
		if size := p.GetSize(); size > 0 {
			return size, true
		}
	}
	return 0, false
}

// ChunkPoint is a chunk with its embedding, ready to be stored.
type ChunkPoint struct {
	Chunk  domain.Chunk
	Vector []float32
	RunID  string
}

// PointID derives a stable point id from the chunk position and collection.
func PointID(malID, chunkIndex int, collection string) string {
	name := strconv.Itoa(malID) + ":" + strconv.Itoa(chunkIndex) + ":" + collection
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// UpsertChunks writes points into collection in batches and waits for each
// batch to be applied. Point ids derive from the alias so they stay stable
// across rebuilds.
func (r *QdrantRepository) UpsertChunks(ctx context.Context, collection string, points []ChunkPoint) error {
	wait := true
	for start := 0; start < len(points); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(points))

		batch := make([]*pb.PointStruct, 0, end-start)
		for _, p := range points[start:end] {
			if len(p.Vector) != r.vectorDimension {
				return fmt.Errorf("chunk %d/%d has %d dimensions, expected %d",
					p.Chunk.MalID, p.Chunk.Index, len(p.Vector), r.vectorDimension)
			}
			batch = append(batch, &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{
						Uuid: PointID(p.Chunk.MalID, p.Chunk.Index, r.collectionName),
					},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}},
				},
				Payload: chunkPayload(p),
			})
		}

		if _, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points:         batch,
		}); err != nil {
			return fmt.Errorf("failed to upsert points: %w", err)
		}
	}
	return nil
}

func chunkPayload(p ChunkPoint) map[string]*pb.Value {
	c := p.Chunk
	return map[string]*pb.Value{
		"mal_id":      {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.MalID)}},
		"chunk_index": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Index)}},
		"content":     {Kind: &pb.Value_StringValue{StringValue: c.Content}},
		"title":       {Kind: &pb.Value_StringValue{StringValue: c.Title}},
		"titles":      stringsToValue(c.Titles),
		"genres":      stringsToValue(c.Genres),
		"demographic": {Kind: &pb.Value_StringValue{StringValue: c.Demographic}},
		"image_url":   {Kind: &pb.Value_StringValue{StringValue: c.ImageURL}},
		"run_id":      {Kind: &pb.Value_StringValue{StringValue: p.RunID}},
	}
}

func stringsToValue(items []string) *pb.Value {
	values := make([]*pb.Value, len(items))
	for i, s := range items {
		values[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}

// Search returns the topK chunks closest to vector, best first.
// Hits scoring below scoreThreshold are dropped when the threshold is positive.
func (r *QdrantRepository) Search(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]domain.ScoredChunk, error) {
	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}
	if scoreThreshold > 0 {
		req.ScoreThreshold = &scoreThreshold
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]domain.ScoredChunk, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		results = append(results, domain.ScoredChunk{
			Chunk: parseChunk(scored.GetPayload()),
			Score: scored.GetScore(),
		})
	}
	return results, nil
}

func parseChunk(payload map[string]*pb.Value) domain.Chunk {
	c := domain.Chunk{
		MalID:       int(payload["mal_id"].GetIntegerValue()),
		Index:       int(payload["chunk_index"].GetIntegerValue()),
		Content:     payload["content"].GetStringValue(),
		Title:       payload["title"].GetStringValue(),
		Titles:      valueToStrings(payload["titles"]),
		Genres:      valueToStrings(payload["genres"]),
		Demographic: payload["demographic"].GetStringValue(),
		ImageURL:    payload["image_url"].GetStringValue(),
	}
	c.DocumentID = strconv.Itoa(c.MalID)
	return c
}

func valueToStrings(v *pb.Value) []string {
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}

// Count returns the exact number of points in the collection.
func (r *QdrantRepository) Count(ctx context.Context) (uint64, error) {
	exact := true
	resp, err := r.pointsClient.Count(ctx, &pb.CountPoints{
		CollectionName: r.collectionName,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return resp.GetResult().GetCount(), nil
}
