package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded local shadow copy of the vector memory.
// The Gateway mirrors every authoritative write into it; the Gateway's own
// reads always go to the authoritative store, so the shadow copy is only
// read where it is queried directly (the search and stats endpoints).
// Similarity search is a brute-force, non-indexed scan done in Go.
//
// Grounded on memory_vector.go's cosine-similarity math (norm/dot/cosine),
// adapted here from a process-local map to rows in a SQLite table so the
// shadow copy survives a restart, and on
// _examples/88lin-divinesense/store/db/sqlite/sqlite.go's pragma-setup
// idiom (WAL journal mode, busy_timeout, single connection) for opening
// the file-backed database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the shadow database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open sqlite shadow store: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("vectorstore: set pragma %q: %w", pragma, err)
		}
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vector_points (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			vector     BLOB NOT NULL,
			payload    TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("vectorstore: migrate shadow schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Bootstrap(ctx context.Context, collection Collection) error {
	bootstrapVec := make([]float32, EmbeddingDimension)
	return s.Upsert(ctx, collection, []Point{{
		ID:      BootstrapPointID,
		Vector:  bootstrapVec,
		Payload: map[string]any{bootstrapField: true},
	}})
}

func (s *SQLiteStore) Upsert(ctx context.Context, collection Collection, points []Point) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorstore: begin shadow upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vector_points (collection, id, vector, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload
	`)
	if err != nil {
		return fmt.Errorf("vectorstore: prepare shadow upsert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		vecBlob, err := encodeVector(p.Vector)
		if err != nil {
			return fmt.Errorf("vectorstore: encode vector for %s: %w", p.ID, err)
		}
		payloadJSON, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("vectorstore: encode payload for %s: %w", p.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, string(collection), p.ID, vecBlob, string(payloadJSON)); err != nil {
			return fmt.Errorf("vectorstore: upsert shadow point %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, collection Collection, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vectorstore: begin shadow delete: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM vector_points WHERE collection = ? AND id = ?`)
	if err != nil {
		return fmt.Errorf("vectorstore: prepare shadow delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, string(collection), id); err != nil {
			return fmt.Errorf("vectorstore: delete shadow point %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteByFilter(ctx context.Context, collection Collection, filter Filter) error {
	points, err := s.scanAll(ctx, collection, filter, true)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(points))
	for _, p := range points {
		ids = append(ids, p.ID)
	}
	return s.Delete(ctx, collection, ids)
}

func (s *SQLiteStore) Search(ctx context.Context, collection Collection, vector []float32, limit int, filter Filter) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	points, err := s.scanAll(ctx, collection, filter, false)
	if err != nil {
		return nil, err
	}

	qnorm := vectorNorm(vector)
	hits := make([]SearchHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, SearchHit{
			ID:      p.ID,
			Score:   cosineSimilarity(vector, p.Vector, qnorm),
			Payload: p.Payload,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *SQLiteStore) Scroll(ctx context.Context, collection Collection, filter Filter, limit int, cursor string) ([]Point, string, error) {
	if limit <= 0 {
		limit = 50
	}
	points, err := s.scanAll(ctx, collection, filter, false)
	if err != nil {
		return nil, "", err
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ID < points[j].ID })

	start := 0
	if cursor != "" {
		for i, p := range points {
			if p.ID > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	end := start + limit
	if end > len(points) {
		end = len(points)
	}
	if start > len(points) {
		start = len(points)
	}
	page := points[start:end]

	next := ""
	if end < len(points) {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

func (s *SQLiteStore) Count(ctx context.Context, collection Collection, filter Filter) (int64, error) {
	points, err := s.scanAll(ctx, collection, filter, false)
	if err != nil {
		return 0, err
	}
	return int64(len(points)), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanAll reads every row in a collection and applies filter in Go,
// mirroring memory_vector.go's matchesFilter approach rather than
// building dynamic SQL predicates over a JSON payload column.
// includeBootstrap controls whether the bootstrap marker row is
// included in the scan.
func (s *SQLiteStore) scanAll(ctx context.Context, collection Collection, filter Filter, includeBootstrap bool) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector, payload FROM vector_points WHERE collection = ?`, string(collection))
	if err != nil {
		return nil, fmt.Errorf("vectorstore: scan shadow collection %s: %w", collection, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var id string
		var vecBlob []byte
		var payloadJSON string
		if err := rows.Scan(&id, &vecBlob, &payloadJSON); err != nil {
			return nil, fmt.Errorf("vectorstore: scan shadow row: %w", err)
		}
		vector, err := decodeVector(vecBlob)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: decode vector for %s: %w", id, err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("vectorstore: decode payload for %s: %w", id, err)
		}
		if !includeBootstrap && payload[bootstrapField] == true {
			continue
		}
		if !matchesFilter(payload, filter) {
			continue
		}
		points = append(points, Point{ID: id, Vector: vector, Payload: payload})
	}
	return points, rows.Err()
}

func matchesFilter(payload map[string]any, filter Filter) bool {
	for k, v := range filter {
		if fmt.Sprintf("%v", payload[k]) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}

func encodeVector(v []float32) ([]byte, error) {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf, nil
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vectorstore: corrupt vector blob of length %d", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		v[i] = math.Float32frombits(bits)
	}
	return v, nil
}

func vectorNorm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func cosineSimilarity(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = vectorNorm(a)
	}
	bnorm := vectorNorm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (anorm * bnorm)
}
