package framelog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS frames (
	seq              INTEGER PRIMARY KEY,
	frame_id         TEXT NOT NULL UNIQUE,
	schema_version   INTEGER NOT NULL,
	created_at       TEXT NOT NULL,
	phase_reached    TEXT NOT NULL,
	action_summary   TEXT NOT NULL,
	domain_tag       TEXT NOT NULL,
	difficulty       TEXT NOT NULL,
	succeeded        INTEGER NOT NULL,
	crystallized     TEXT,
	belief_delta     TEXT NOT NULL,
	capability_delta TEXT NOT NULL,
	diversity        REAL NOT NULL,
	loop_iteration   INTEGER NOT NULL,
	resource_usage   TEXT NOT NULL,
	parent_hash      TEXT NOT NULL,
	content_hash     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS frame_embeddings (
	seq        INTEGER PRIMARY KEY,
	embedding  BLOB NOT NULL,
	FOREIGN KEY (seq) REFERENCES frames(seq)
);

CREATE TABLE IF NOT EXISTS verdict_log (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	seq              INTEGER NOT NULL,
	raw_emerged      INTEGER NOT NULL,
	raw_confidence   REAL NOT NULL,
	reasons          TEXT,
	flags            TEXT,
	gaming_score     REAL NOT NULL,
	quality_score    REAL NOT NULL,
	final_confidence REAL NOT NULL,
	final_emerged    INTEGER NOT NULL,
	created_at       TEXT NOT NULL,
	FOREIGN KEY (seq) REFERENCES frames(seq)
);
`

// #endregion schema

// #region timestamps
// timestampLayout is fixed-width UTC RFC3339 with nanoseconds. Fixed width
// keeps the lexicographic order of stored created_at strings identical to
// chronological order, which RangeQuery's SQL comparison relies on;
// RFC3339Nano would truncate trailing fractional zeros and break that.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// #endregion timestamps

// #region embedder-interface
// Embedder abstracts the embedding provider so SemanticSearch can be tested
// without a live service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion embedder-interface

// #region store-struct
// Store is the append-only, hash-chained frame log in SQLite. It is the only
// component allowed to write frames.
type Store struct {
	db       *sql.DB
	embedder Embedder

	appendMu sync.Mutex  // serializes the seq/parentHash assignment point
	halted   atomic.Bool // set on the first observed chain break
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an already-open database. Used by tests and the
// offline tools, which open the db themselves.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SetEmbedder wires the embedding provider used for the best-effort
// embedding cache and SemanticSearch. May be nil; search then degrades.
func (s *Store) SetEmbedder(e Embedder) {
	s.embedder = e
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for packages that share the database
// (verdict logging, honeypots, review queue).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region append
// Append assigns the next sequence number and parent hash, computes the
// content hash, and persists the frame atomically. A concurrent append in
// flight yields ErrAppendContended; the caller retries.
func (s *Store) Append(ctx context.Context, o Outcome) (Frame, error) {
	if s.halted.Load() {
		return Frame{}, ErrLogHalted
	}
	if !s.appendMu.TryLock() {
		return Frame{}, ErrAppendContended
	}
	defer s.appendMu.Unlock()

	var seq int64
	parent := GenesisParentHash
	tail, err := s.Latest()
	switch {
	case err == nil:
		seq = tail.Seq
		parent = tail.ContentHash
	case errors.Is(err, ErrNotFound):
		// first frame
	default:
		return Frame{}, fmt.Errorf("read tail: %w", err)
	}

	f := Frame{
		SchemaVersion:        CurrentSchemaVersion,
		FrameID:              uuid.New().String(),
		Seq:                  seq + 1,
		Timestamp:            time.Now().UTC(),
		PhaseReached:         o.PhaseReached,
		ActionSummary:        o.ActionSummary,
		DomainTag:            o.DomainTag,
		Difficulty:           o.Difficulty,
		Succeeded:            o.Succeeded,
		CrystallizedArtifact: o.CrystallizedArtifact,
		BeliefDelta:          o.BeliefDelta,
		CapabilityDelta:      o.CapabilityDelta,
		DiversityScore:       DiversityScore(o.ActionSummary),
		LoopIteration:        o.LoopIteration,
		ResourceUsage:        o.ResourceUsage,
		ParentHash:           parent,
	}
	f.ContentHash = ComputeContentHash(f)

	beliefJSON, err := json.Marshal(f.BeliefDelta)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal belief delta: %w", err)
	}
	capJSON, err := json.Marshal(f.CapabilityDelta)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal capability delta: %w", err)
	}
	usageJSON, err := json.Marshal(f.ResourceUsage)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal resource usage: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Frame{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO frames (seq, frame_id, schema_version, created_at, phase_reached, action_summary,
		                     domain_tag, difficulty, succeeded, crystallized, belief_delta, capability_delta,
		                     diversity, loop_iteration, resource_usage, parent_hash, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Seq, f.FrameID, f.SchemaVersion, formatTimestamp(f.Timestamp), f.PhaseReached,
		f.ActionSummary, f.DomainTag, f.Difficulty, boolToInt(f.Succeeded), nullIfEmpty(f.CrystallizedArtifact),
		string(beliefJSON), string(capJSON), f.DiversityScore, f.LoopIteration, string(usageJSON),
		f.ParentHash, f.ContentHash,
	)
	if err != nil {
		return Frame{}, fmt.Errorf("insert frame: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Frame{}, fmt.Errorf("commit: %w", err)
	}

	s.cacheEmbedding(ctx, f)
	return f, nil
}

// cacheEmbedding stores the action-summary embedding best-effort. A failure
// is logged and never fails the append.
func (s *Store) cacheEmbedding(ctx context.Context, f Frame) {
	if s.embedder == nil {
		return
	}
	vec, err := s.embedder.Embed(ctx, f.ActionSummary)
	if err != nil {
		log.Printf("[FRAMELOG] embedding cache miss for seq %d: %v", f.Seq, err)
		return
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO frame_embeddings (seq, embedding) VALUES (?, ?)`,
		f.Seq, encodeVector(vec),
	); err != nil {
		log.Printf("[FRAMELOG] embedding cache write for seq %d: %v", f.Seq, err)
	}
}

// #endregion append

// #region reads
// Latest returns the tail frame, or ErrNotFound on an empty log.
func (s *Store) Latest() (Frame, error) {
	row := s.db.QueryRow(selectFrame + ` ORDER BY seq DESC LIMIT 1`)
	return scanFrame(row)
}

// Count returns the number of frames in the log.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM frames`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count frames: %w", err)
	}
	return n, nil
}

// FrameAt returns the frame with the given sequence number.
func (s *Store) FrameAt(seq int64) (Frame, error) {
	row := s.db.QueryRow(selectFrame+` WHERE seq = ?`, seq)
	return scanFrame(row)
}

// TimeTravel returns the frame k steps behind the tail. k=0 is the tail
// itself. Negative k or k beyond the log length yields ErrNotFound.
func (s *Store) TimeTravel(k int64) (Frame, error) {
	if k < 0 {
		return Frame{}, ErrNotFound
	}
	tail, err := s.Latest()
	if err != nil {
		return Frame{}, err
	}
	target := tail.Seq - k
	if target < 1 {
		return Frame{}, ErrNotFound
	}
	return s.FrameAt(target)
}

// FramesBack returns the most recent n frames in ascending sequence order.
// Fewer than n frames is not an error; the caller treats short history as
// neutral.
func (s *Store) FramesBack(n int) ([]Frame, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(selectFrame+` ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("frames back: %w", err)
	}
	defer rows.Close()

	frames, err := scanFrames(rows)
	if err != nil {
		return nil, err
	}
	// reverse into ascending order
	for i, j := 0, len(frames)-1; i < j; i, j = i+1, j-1 {
		frames[i], frames[j] = frames[j], frames[i]
	}
	return frames, nil
}

// CrystallizedBefore returns every crystallized artifact from frames with a
// lower sequence number, in sequence order. Used for artifact novelty
// scoring.
func (s *Store) CrystallizedBefore(seq int64) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT crystallized FROM frames WHERE seq < ? AND crystallized IS NOT NULL ORDER BY seq ASC`, seq,
	)
	if err != nil {
		return nil, fmt.Errorf("crystallized before: %w", err)
	}
	defer rows.Close()

	var artifacts []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// RangeQuery returns frames whose timestamps fall in [start, end], in
// sequence order.
func (s *Store) RangeQuery(start, end time.Time) ([]Frame, error) {
	rows, err := s.db.Query(
		selectFrame+` WHERE created_at >= ? AND created_at <= ? ORDER BY seq ASC`,
		formatTimestamp(start), formatTimestamp(end),
	)
	if err != nil {
		return nil, fmt.Errorf("range query: %w", err)
	}
	defer rows.Close()
	return scanFrames(rows)
}

// #endregion reads

// #region semantic-search
// SemanticSearch orders frames by descending cosine similarity between the
// query embedding and each frame's action-summary embedding. Ties break by
// descending sequence number (most recent first).
func (s *Store) SemanticSearch(ctx context.Context, queryText string, limit int) ([]Frame, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("semantic search: no embedder configured")
	}
	queryVec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.db.Query(selectFrame + ` ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("semantic search scan: %w", err)
	}
	defer rows.Close()
	frames, err := scanFrames(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		frame Frame
		score float64
	}
	candidates := make([]scored, 0, len(frames))
	for _, f := range frames {
		vec, err := s.frameEmbedding(ctx, f)
		if err != nil {
			log.Printf("[FRAMELOG] skip seq %d in search: %v", f.Seq, err)
			continue
		}
		candidates = append(candidates, scored{frame: f, score: Cosine(queryVec, vec)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].frame.Seq > candidates[j].frame.Seq
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}
	out := make([]Frame, len(candidates))
	for i, c := range candidates {
		out[i] = c.frame
	}
	return out, nil
}

// frameEmbedding returns the cached embedding for a frame, computing and
// caching it on miss.
func (s *Store) frameEmbedding(ctx context.Context, f Frame) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT embedding FROM frame_embeddings WHERE seq = ?`, f.Seq).Scan(&blob)
	if err == nil {
		return decodeVector(blob), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read embedding: %w", err)
	}
	vec, err := s.embedder.Embed(ctx, f.ActionSummary)
	if err != nil {
		return nil, fmt.Errorf("embed summary: %w", err)
	}
	if _, err := s.db.Exec(
		`INSERT OR REPLACE INTO frame_embeddings (seq, embedding) VALUES (?, ?)`,
		f.Seq, encodeVector(vec),
	); err != nil {
		log.Printf("[FRAMELOG] embedding cache write for seq %d: %v", f.Seq, err)
	}
	return vec, nil
}

// CachedEmbedding returns the stored embedding for a sequence number, or
// ErrNotFound when none was cached.
func (s *Store) CachedEmbedding(seq int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT embedding FROM frame_embeddings WHERE seq = ?`, seq).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read embedding: %w", err)
	}
	return decodeVector(blob), nil
}

// #endregion semantic-search

// #region verify
// VerifyIntegrity recomputes every contentHash/parentHash pair in
// [fromSeq, toSeq] and returns an IntegrityError naming the first broken
// sequence number. A break halts all further writes.
func (s *Store) VerifyIntegrity(fromSeq, toSeq int64) error {
	if fromSeq < 1 {
		fromSeq = 1
	}
	if toSeq < fromSeq {
		return nil
	}

	prevHash := GenesisParentHash
	if fromSeq > 1 {
		pred, err := s.FrameAt(fromSeq - 1)
		if err != nil {
			return fmt.Errorf("read predecessor of %d: %w", fromSeq, err)
		}
		prevHash = pred.ContentHash
	}

	rows, err := s.db.Query(selectFrame+` WHERE seq >= ? AND seq <= ? ORDER BY seq ASC`, fromSeq, toSeq)
	if err != nil {
		return fmt.Errorf("verify scan: %w", err)
	}
	defer rows.Close()
	frames, err := scanFrames(rows)
	if err != nil {
		return err
	}

	expectSeq := fromSeq
	for _, f := range frames {
		if f.Seq != expectSeq || f.ParentHash != prevHash || ComputeContentHash(f) != f.ContentHash {
			s.halted.Store(true)
			return &IntegrityError{Seq: f.Seq}
		}
		prevHash = f.ContentHash
		expectSeq++
	}
	return nil
}

// Halted reports whether the store has refused writes after a chain break.
func (s *Store) Halted() bool {
	return s.halted.Load()
}

// #endregion verify

// #region scan-helpers
const selectFrame = `SELECT seq, frame_id, schema_version, created_at, phase_reached, action_summary,
	domain_tag, difficulty, succeeded, crystallized, belief_delta, capability_delta,
	diversity, loop_iteration, resource_usage, parent_hash, content_hash FROM frames`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFrame(row rowScanner) (Frame, error) {
	var f Frame
	var createdStr string
	var succeeded int
	var crystallized sql.NullString
	var beliefJSON, capJSON, usageJSON string

	err := row.Scan(
		&f.Seq, &f.FrameID, &f.SchemaVersion, &createdStr, &f.PhaseReached, &f.ActionSummary,
		&f.DomainTag, &f.Difficulty, &succeeded, &crystallized, &beliefJSON, &capJSON,
		&f.DiversityScore, &f.LoopIteration, &usageJSON, &f.ParentHash, &f.ContentHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Frame{}, ErrNotFound
	}
	if err != nil {
		return Frame{}, fmt.Errorf("scan frame: %w", err)
	}

	f.Timestamp, err = time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		return Frame{}, fmt.Errorf("parse timestamp: %w", err)
	}
	f.Succeeded = succeeded != 0
	if crystallized.Valid {
		f.CrystallizedArtifact = crystallized.String
	}
	if err := json.Unmarshal([]byte(beliefJSON), &f.BeliefDelta); err != nil {
		return Frame{}, fmt.Errorf("unmarshal belief delta: %w", err)
	}
	if err := json.Unmarshal([]byte(capJSON), &f.CapabilityDelta); err != nil {
		return Frame{}, fmt.Errorf("unmarshal capability delta: %w", err)
	}
	if err := json.Unmarshal([]byte(usageJSON), &f.ResourceUsage); err != nil {
		return Frame{}, fmt.Errorf("unmarshal resource usage: %w", err)
	}
	return f, nil
}

func scanFrames(rows *sql.Rows) ([]Frame, error) {
	var frames []Frame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion scan-helpers

// #region vector-encoding
func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// Cosine computes cosine similarity between two vectors. Returns 0 for
// zero-length or mismatched vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// #endregion vector-encoding
