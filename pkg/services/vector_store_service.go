package services

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"supplychain-iq-api/pkg/logging"
	"supplychain-iq-api/pkg/models"
)

// qdrantUpsertBatch Upsert 1回あたりのポイント数
const qdrantUpsertBatch = 256

// QdrantIndexBuilder はインデックスの世代ごとにQdrantコレクションを作成します
type QdrantIndexBuilder struct {
	conn        *grpc.ClientConn
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	prefix      string
	logger      *zap.Logger
}

// QdrantOptions Qdrant接続設定
type QdrantOptions struct {
	URL              string
	APIKey           string
	CollectionPrefix string
	// ReadyRetries サーバー準備確認のリトライ回数
	ReadyRetries  int
	RetryInterval time.Duration
}

// NewQdrantIndexBuilder はQdrantに接続し、サーバーの準備ができるまで待機します
func NewQdrantIndexBuilder(ctx context.Context, opts QdrantOptions, logger *zap.Logger) (*QdrantIndexBuilder, error) {
	logger = logging.OrNop(logger)

	var dialOpts []grpc.DialOption
	// APIキーの有無で、Cloud接続(TLS+APIキー)とローカル接続(非セキュア)を切り替える
	if opts.APIKey != "" {
		logger.Info("Qdrant Cloud (TLS) への接続を準備します", zap.String("url", opts.URL))
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))

		apiKey := opts.APIKey
		authInterceptor := func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
			ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
			return invoker(ctx, method, req, reply, cc, callOpts...)
		}
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(authInterceptor))
	} else {
		logger.Info("ローカルのQdrant (非TLS) への接続を準備します", zap.String("url", opts.URL))
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(opts.URL, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("QdrantへのgRPCクライアント作成に失敗: %w", err)
	}

	b := &QdrantIndexBuilder{
		conn:        conn,
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		prefix:      opts.CollectionPrefix,
		logger:      logger,
	}
	if b.prefix == "" {
		b.prefix = "supplychain_chunks"
	}

	retries := opts.ReadyRetries
	if retries <= 0 {
		retries = 10
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if err := b.waitReady(ctx, retries, interval); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

// waitReady Qdrantサーバーが完全に起動するまでリトライしながらコレクション一覧を取得する
func (b *QdrantIndexBuilder) waitReady(ctx context.Context, retries int, interval time.Duration) error {
	var lastErr error
	for i := 0; i < retries; i++ {
		listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := b.collections.List(listCtx, &qdrant.ListCollectionsRequest{})
		cancel()
		if err == nil {
			b.logger.Info("Qdrantサーバーの準備ができました")
			return nil
		}
		lastErr = err
		b.logger.Warn("Qdrantサーバーの準備確認に失敗しました",
			zap.Int("attempt", i+1), zap.Int("max", retries), zap.Duration("retry_in", interval), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("Qdrantのコレクションリスト取得に失敗（リトライ上限到達）: %w", lastErr)
}

// Name implements IndexBuilder.
func (b *QdrantIndexBuilder) Name() string { return "qdrant" }

// Close closes the gRPC connection.
func (b *QdrantIndexBuilder) Close() error { return b.conn.Close() }

// Build implements IndexBuilder. The collection is fully written before it is returned.
func (b *QdrantIndexBuilder) Build(ctx context.Context, generation uint64, chunks []models.DocumentChunk, vectors [][]float32) (VectorIndex, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("chunk/vector count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	name := fmt.Sprintf("%s_g%d_%s", b.prefix, generation, uuid.NewString()[:8])
	_, err := b.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(len(vectors[0])),
					Distance: qdrant.Distance_Euclid,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Qdrantのコレクション作成に失敗: %w", err)
	}

	idx := &QdrantIndex{builder: b, collection: name, size: len(chunks)}
	for start := 0; start < len(chunks); start += qdrantUpsertBatch {
		end := start + qdrantUpsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		points := make([]*qdrant.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, chunkPoint(i, chunks[i], vectors[i]))
		}
		wait := true
		if _, err := b.points.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Points:         points,
			Wait:           &wait,
		}); err != nil {
			idx.Close()
			return nil, fmt.Errorf("Qdrantへのベクトル保存に失敗: %w", err)
		}
	}

	b.logger.Info("Qdrantコレクションを作成しました", zap.String("collection", name), zap.Int("points", len(chunks)))
	return idx, nil
}

// ListCollections はこのビルダーの接頭辞を持つコレクション名を返す。
// 異常終了したプロセスが残したコレクションの掃除に使う。
func (b *QdrantIndexBuilder) ListCollections(ctx context.Context) ([]string, error) {
	resp, err := b.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("Qdrantのコレクション一覧取得に失敗: %w", err)
	}
	names := make([]string, 0, len(resp.GetCollections()))
	for _, c := range resp.GetCollections() {
		names = append(names, c.GetName())
	}
	return ownedCollections(names, b.prefix), nil
}

// DeleteCollection はコレクションを削除する
func (b *QdrantIndexBuilder) DeleteCollection(ctx context.Context, name string) error {
	if _, err := b.collections.Delete(ctx, &qdrant.DeleteCollection{CollectionName: name}); err != nil {
		return fmt.Errorf("Qdrantのコレクション削除に失敗 (%s): %w", name, err)
	}
	return nil
}

// ownedCollections は "{prefix}_g" で始まる名前だけを昇順で返す
func ownedCollections(names []string, prefix string) []string {
	owned := make([]string, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, prefix+"_g") {
			owned = append(owned, name)
		}
	}
	sort.Strings(owned)
	return owned
}

// chunkPoint チャンクと挿入順をペイロードに持つPointを作る
func chunkPoint(position int, chunk models.DocumentChunk, vector []float32) *qdrant.PointStruct {
	return &qdrant.PointStruct{
		Id: &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Num{Num: uint64(position)},
		},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{Data: vector},
			},
		},
		Payload: map[string]*qdrant.Value{
			"text":     {Kind: &qdrant.Value_StringValue{StringValue: chunk.Text}},
			"type":     {Kind: &qdrant.Value_StringValue{StringValue: string(chunk.Metadata.Type)}},
			"id":       {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(chunk.Metadata.ID)}},
			"position": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(position)}},
		},
	}
}

// QdrantIndex 1世代分のQdrantコレクション
type QdrantIndex struct {
	builder    *QdrantIndexBuilder
	collection string
	size       int
}

// qdrantTieMargin は同距離の点を挿入順に並べ直すために余分に取る件数。
// margin を超えて同距離が続く場合、その先の順序は保証しない
const qdrantTieMargin = 16

// Search implements VectorIndex.
// 上位 k+margin 件を完全探索で取得し、挿入順で並べ直してから k 件に切り詰める。
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return []models.SearchHit{}, nil
	}
	if k > q.size {
		k = q.size
	}
	limit := k + qdrantTieMargin
	if limit > q.size {
		limit = q.size
	}
	res, err := q.builder.points.Search(ctx, searchRequest(q.collection, query, limit))
	if err != nil {
		return nil, fmt.Errorf("Qdrantでの検索に失敗: %w", err)
	}
	return trimHits(scoredPointsToHits(res.GetResult()), k), nil
}

// searchRequest HNSW の近似だとフラット索引と結果がずれるので Exact で問い合わせる
func searchRequest(collection string, query []float32, limit int) *qdrant.SearchPoints {
	exact := true
	return &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         query,
		Limit:          uint64(limit),
		Params:         &qdrant.SearchParams{Exact: &exact},
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	}
}

func trimHits(hits []models.SearchHit, k int) []models.SearchHit {
	if len(hits) > k {
		return hits[:k]
	}
	return hits
}

// scoredPointsToHits Euclid距離ではscoreが距離そのもの
func scoredPointsToHits(points []*qdrant.ScoredPoint) []models.SearchHit {
	hits := make([]models.SearchHit, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		hits = append(hits, models.SearchHit{
			Chunk: models.DocumentChunk{
				Text: payload["text"].GetStringValue(),
				Metadata: models.ChunkMetadata{
					Type: models.EntityType(payload["type"].GetStringValue()),
					ID:   int(payload["id"].GetIntegerValue()),
				},
			},
			Distance: float64(p.GetScore()),
			Position: int(payload["position"].GetIntegerValue()),
		})
	}
	// Qdrant does not order ties by insertion
	sortHits(hits)
	return hits
}

// Len implements VectorIndex.
func (q *QdrantIndex) Len() int { return q.size }

// Close drops the collection.
func (q *QdrantIndex) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := q.builder.collections.Delete(ctx, &qdrant.DeleteCollection{CollectionName: q.collection})
	if err != nil {
		q.builder.logger.Warn("Qdrantコレクションの削除に失敗しました", zap.String("collection", q.collection), zap.Error(err))
		return fmt.Errorf("Qdrantのコレクション削除に失敗: %w", err)
	}
	q.builder.logger.Info("古いQdrantコレクションを削除しました", zap.String("collection", q.collection))
	return nil
}
