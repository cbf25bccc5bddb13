package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantStore is the authoritative vector backend.
//
// Grounded directly on internal/persistence/databases/qdrant_vector.go's
// gRPC client construction and UUID re-derivation idiom, extended with
// Scroll/Count/payload-index operations the teacher's minimal VectorStore
// interface never needed, plus the bootstrap-row convention.
type QdrantStore struct {
	client *qdrant.Client
}

// NewQdrantStore dials Qdrant over gRPC (default port 6334). An optional
// "api_key" query parameter on dsn is forwarded as the API key.
func NewQdrantStore(dsn string) (*QdrantStore, error) {
	parsedURL, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: parse qdrant dsn: %w", err)
	}
	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsedURL.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsedURL.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsedURL.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create qdrant client: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

// Bootstrap creates the collection (cosine distance, EmbeddingDimension)
// if it doesn't already exist, indexes the payload fields the gateway
// filters on, and inserts the explicit bootstrap marker point.
func (q *QdrantStore) Bootstrap(ctx context.Context, collection Collection) error {
	name := string(collection)
	exists, err := q.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("vectorstore: check collection exists: %w", err)
	}
	if exists {
		return nil
	}

	if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(EmbeddingDimension),
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", name, err)
	}

	for _, field := range payloadIndexFields(collection) {
		if err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		}); err != nil {
			return fmt.Errorf("vectorstore: create payload index %s.%s: %w", name, field, err)
		}
	}

	bootstrapVec := make([]float32, EmbeddingDimension)
	_, err = q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(BootstrapPointID),
			Vectors: qdrant.NewVectorsDense(bootstrapVec),
			Payload: qdrant.NewValueMap(map[string]any{bootstrapField: true}),
		}},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: insert bootstrap point: %w", err)
	}
	return nil
}

// payloadIndexFields names the keyword fields the gateway's queries
// filter on, per collection, matching the room/user/history lookup
// patterns in the context assembler and ingest pipeline.
func payloadIndexFields(collection Collection) []string {
	switch collection {
	case CollectionMessages:
		return []string{"room_id", "external_message_id"}
	case CollectionAIChatMessages:
		return []string{"room_id", "user_id"}
	case CollectionRooms:
		return []string{"room_id"}
	case CollectionUsers:
		return []string{"user_id"}
	default:
		return nil
	}
}

func (q *QdrantStore) Upsert(ctx context.Context, collection Collection, points []Point) error {
	pbPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		pbPoints = append(pbPoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: string(collection),
		Points:         pbPoints,
	})
	if err != nil {
		return fmt.Errorf("vectorstore: upsert into %s: %w", collection, err)
	}
	return nil
}

func (q *QdrantStore) Delete(ctx context.Context, collection Collection, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: string(collection),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete from %s: %w", collection, err)
	}
	return nil
}

func (q *QdrantStore) DeleteByFilter(ctx context.Context, collection Collection, filter Filter) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: string(collection),
		Points:         qdrant.NewPointsSelectorFilter(toQdrantFilter(filter)),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: delete by filter from %s: %w", collection, err)
	}
	return nil
}

func (q *QdrantStore) Search(ctx context.Context, collection Collection, vector []float32, limit int, filter Filter) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	combined := combineWithBootstrapExclusion(filter)
	limitU := uint64(limit)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: string(collection),
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limitU,
		Filter:         combined,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search %s: %w", collection, err)
	}

	out := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		out = append(out, SearchHit{
			ID:      idString(hit.Id),
			Score:   float64(hit.Score),
			Payload: payloadToMap(hit.Payload),
		})
	}
	return out, nil
}

func (q *QdrantStore) Scroll(ctx context.Context, collection Collection, filter Filter, limit int, cursor string) ([]Point, string, error) {
	if limit <= 0 {
		limit = 50
	}
	limitU := uint32(limit)
	req := &qdrant.ScrollPoints{
		CollectionName: string(collection),
		Filter:         combineWithBootstrapExclusion(filter),
		Limit:          &limitU,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if cursor != "" {
		req.Offset = qdrant.NewIDUUID(cursor)
	}

	resp, err := q.client.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("vectorstore: scroll %s: %w", collection, err)
	}

	points := make([]Point, 0, len(resp))
	for _, rp := range resp {
		points = append(points, Point{
			ID:      idString(rp.Id),
			Vector:  denseVector(rp.Vectors),
			Payload: payloadToMap(rp.Payload),
		})
	}

	nextCursor := ""
	if len(points) == limit {
		nextCursor = points[len(points)-1].ID
	}
	return points, nextCursor, nil
}

func (q *QdrantStore) Count(ctx context.Context, collection Collection, filter Filter) (int64, error) {
	exact := true
	resp, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: string(collection),
		Filter:         combineWithBootstrapExclusion(filter),
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count %s: %w", collection, err)
	}
	return int64(resp), nil
}

func (q *QdrantStore) Close() error {
	return q.client.Close()
}

func combineWithBootstrapExclusion(filter Filter) *qdrant.Filter {
	f := toQdrantFilter(filter)
	if f == nil {
		f = &qdrant.Filter{}
	}
	f.MustNot = append(f.MustNot, qdrant.NewMatchBool(bootstrapField, true))
	return f
}

func toQdrantFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		switch val := v.(type) {
		case string:
			must = append(must, qdrant.NewMatch(k, val))
		case bool:
			must = append(must, qdrant.NewMatchBool(k, val))
		default:
			must = append(must, qdrant.NewMatch(k, fmt.Sprintf("%v", val)))
		}
	}
	return &qdrant.Filter{Must: must}
}

func idString(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return id.String()
}

func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch {
		case v == nil:
			out[k] = nil
		case v.GetStringValue() != "":
			out[k] = v.GetStringValue()
		case v.GetBoolValue():
			out[k] = true
		case v.GetIntegerValue() != 0:
			out[k] = v.GetIntegerValue()
		case v.GetDoubleValue() != 0:
			out[k] = v.GetDoubleValue()
		default:
			out[k] = v.String()
		}
	}
	return out
}

func denseVector(vectors *qdrant.VectorsOutput) []float32 {
	if vectors == nil {
		return nil
	}
	if dense := vectors.GetVector(); dense != nil {
		return dense.GetData()
	}
	return nil
}
