package store

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// QdrantConfig configures the Qdrant gRPC connection.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	// Target overrides Host:Port, e.g. "passthrough:///bufnet".
	Target string
	// Timeout bounds each RPC. Zero means 30s.
	Timeout time.Duration
	// Retry governs retries of unavailable-server errors on writes.
	Retry kberrors.RetryConfig
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
	Logger      *slog.Logger
}

// QdrantBackend talks to Qdrant over its gRPC API.
type QdrantBackend struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	cfg         QdrantConfig
}

var _ Backend = (*QdrantBackend)(nil)

// NewQdrantBackend creates a client. The connection is established lazily on
// the first call.
func NewQdrantBackend(cfg QdrantConfig) (*QdrantBackend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = kberrors.DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	target := cfg.Target
	if target == "" {
		target = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, kberrors.StoreError(kberrors.ErrCodeStoreUnavailable, "qdrant connect", err).
			WithDetail("target", target)
	}
	return &QdrantBackend{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		cfg:         cfg,
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// EnsureCollection creates name with cosine distance unless it exists.
// AlreadyExists from a concurrent creator counts as success.
func (b *QdrantBackend) EnsureCollection(ctx context.Context, name string, vectorSize int) error {
	return kberrors.Retry(ctx, b.cfg.Retry, func() error {
		rctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()

		exists, err := b.collections.CollectionExists(rctx, &pb.CollectionExistsRequest{CollectionName: name})
		if err != nil {
			return qdrantError(kberrors.ErrCodeStoreUnavailable, "check collection", err)
		}
		if exists.GetResult().GetExists() {
			return b.checkVectorSize(rctx, name, vectorSize)
		}

		_, err = b.collections.Create(rctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
				Size:     uint64(vectorSize),
				Distance: pb.Distance_Cosine,
			}}},
		})
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		if err != nil {
			return qdrantError(kberrors.ErrCodeStoreUnavailable, "create collection", err)
		}
		b.cfg.Logger.Info("Created qdrant collection",
			slog.String("collection", name),
			slog.Int("vector_size", vectorSize))
		return nil
	})
}

func (b *QdrantBackend) checkVectorSize(ctx context.Context, name string, want int) error {
	info, err := b.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return qdrantError(kberrors.ErrCodeStoreUnavailable, "get collection", err)
	}
	have := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if have == 0 {
		// named vectors; nothing to compare against
		return nil
	}
	return checkCollectionDims(name, int(have), want)
}

// Upsert writes points and waits until Qdrant has applied them.
func (b *QdrantBackend) Upsert(ctx context.Context, name string, points []Point) error {
	req := &pb.UpsertPoints{
		CollectionName: name,
		Wait:           ptr(true),
		Points:         make([]*pb.PointStruct, len(points)),
	}
	for i, p := range points {
		req.Points[i] = toPointStruct(p)
	}
	return kberrors.Retry(ctx, b.cfg.Retry, func() error {
		rctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
		if _, err := b.points.Upsert(rctx, req); err != nil {
			return qdrantError(kberrors.ErrCodeUpsertFailed, "upsert", err)
		}
		return nil
	})
}

// Search runs a nearest-neighbor query with payloads.
func (b *QdrantBackend) Search(ctx context.Context, name string, vector []float32, limit int) ([]SearchResult, error) {
	rctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	resp, err := b.points.Search(rctx, &pb.SearchPoints{
		CollectionName: name,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, qdrantError(kberrors.ErrCodeSearchFailed, "search", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, sp := range resp.GetResult() {
		results[i] = fromScoredPoint(sp)
	}
	return results, nil
}

// DeleteAll deletes by an empty filter, which matches every point, as one
// operation.
func (b *QdrantBackend) DeleteAll(ctx context.Context, name string) error {
	rctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	_, err := b.points.Delete(rctx, &pb.DeletePoints{
		CollectionName: name,
		Wait:           ptr(true),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: &pb.Filter{}},
		},
	})
	if err != nil {
		return qdrantError(kberrors.ErrCodeResetFailed, "delete points", err)
	}
	return nil
}

// Count returns the exact point count.
func (b *QdrantBackend) Count(ctx context.Context, name string) (int, error) {
	rctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	resp, err := b.points.Count(rctx, &pb.CountPoints{CollectionName: name, Exact: ptr(true)})
	if err != nil {
		return 0, qdrantError(kberrors.ErrCodeStoreUnavailable, "count", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Close closes the gRPC connection.
func (b *QdrantBackend) Close() error {
	return b.conn.Close()
}

func toPointStruct(p Point) *pb.PointStruct {
	return &pb.PointStruct{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: p.ID}},
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
		Payload: map[string]*pb.Value{
			"text":   {Kind: &pb.Value_StringValue{StringValue: p.Payload.Text}},
			"source": {Kind: &pb.Value_StringValue{StringValue: p.Payload.Source}},
			"index":  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(p.Payload.Index)}},
		},
	}
}

func fromScoredPoint(sp *pb.ScoredPoint) SearchResult {
	payload := sp.GetPayload()
	return SearchResult{
		ID:    sp.GetId().GetNum(),
		Score: sp.GetScore(),
		Payload: Payload{
			Text:   payload["text"].GetStringValue(),
			Source: payload["source"].GetStringValue(),
			Index:  int(payload["index"].GetIntegerValue()),
		},
	}
}

// qdrantError maps a gRPC failure: transport-level codes become a retryable
// unavailable error, everything else keeps the operation's code.
func qdrantError(code, op string, err error) error {
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return kberrors.StoreError(kberrors.ErrCodeStoreUnavailable, "qdrant "+op, err).
			WithRetryable(true).
			WithSuggestion("Check that Qdrant is running and qdrant.host / qdrant.port are correct")
	default:
		return kberrors.StoreError(code, "qdrant "+op, err).WithRetryable(false)
	}
}

func ptr[T any](v T) *T { return &v }
