package review

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS review_queue (
	review_id     TEXT PRIMARY KEY,
	seq           INTEGER NOT NULL,
	final_emerged INTEGER NOT NULL,
	payload       TEXT NOT NULL,
	judged        INTEGER NOT NULL DEFAULT 0,
	is_genuine    INTEGER,
	notes         TEXT,
	created_at    TEXT NOT NULL,
	judged_at     TEXT
);
`

// #endregion schema

// #region types
// Item is one sampled evaluation awaiting or holding a human judgment.
type Item struct {
	ReviewID     string
	Seq          int64
	FinalEmerged bool
	Payload      string
	Judged       bool
	IsGenuine    bool
	Notes        string
	CreatedAt    time.Time
}

// Stats summarizes judged items. AgreementRate is the fraction of judged
// items where the human agreed with the guard's final verdict; it feeds
// threshold tuning and nothing else.
type Stats struct {
	Enqueued      int64
	Judged        int64
	Agreements    int64
	AgreementRate float64
}

// ErrUnknownReview is returned for a judgment against a missing review ID.
var ErrUnknownReview = errors.New("unknown review id")

// #endregion types

// #region queue
// Queue is the SQLite-backed human-review side channel. Judgments never
// rewrite a past verdict; they only feed agreement statistics.
type Queue struct {
	db *sql.DB
}

// NewQueue creates the review_queue table and returns the queue.
func NewQueue(db *sql.DB) (*Queue, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("review schema: %w", err)
	}
	return &Queue{db: db}, nil
}

// Enqueue adds one sampled evaluation and returns its review ID.
func (q *Queue) Enqueue(seq int64, finalEmerged bool, payloadJSON string) (string, error) {
	id := uuid.New().String()
	_, err := q.db.Exec(
		`INSERT INTO review_queue (review_id, seq, final_emerged, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, seq, boolToInt(finalEmerged), payloadJSON, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue review: %w", err)
	}
	return id, nil
}

// RecordJudgment stores a human judgment for a pending item.
func (q *Queue) RecordJudgment(reviewID string, isGenuine bool, notes string) error {
	res, err := q.db.Exec(
		`UPDATE review_queue SET judged = 1, is_genuine = ?, notes = ?, judged_at = ? WHERE review_id = ?`,
		boolToInt(isGenuine), notes, time.Now().UTC().Format(time.RFC3339Nano), reviewID,
	)
	if err != nil {
		return fmt.Errorf("record judgment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record judgment: %w", err)
	}
	if n == 0 {
		return ErrUnknownReview
	}
	return nil
}

// Pending lists unjudged items, oldest first.
func (q *Queue) Pending(limit int) ([]Item, error) {
	rows, err := q.db.Query(
		`SELECT review_id, seq, final_emerged, payload, judged, COALESCE(is_genuine, 0), COALESCE(notes, ''), created_at
		 FROM review_queue WHERE judged = 0 ORDER BY created_at ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("pending reviews: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		var emerged, judged, genuine int
		var createdStr string
		if err := rows.Scan(&it.ReviewID, &it.Seq, &emerged, &it.Payload, &judged, &genuine, &it.Notes, &createdStr); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		it.FinalEmerged = emerged != 0
		it.Judged = judged != 0
		it.IsGenuine = genuine != 0
		it.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		items = append(items, it)
	}
	return items, rows.Err()
}

// AgreementStats reports how often human judgments agreed with the final
// verdicts on judged items.
func (q *Queue) AgreementStats() (Stats, error) {
	var s Stats
	err := q.db.QueryRow(`SELECT COUNT(*) FROM review_queue`).Scan(&s.Enqueued)
	if err != nil {
		return Stats{}, fmt.Errorf("agreement stats: %w", err)
	}
	err = q.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_genuine = final_emerged THEN 1 ELSE 0 END), 0)
		 FROM review_queue WHERE judged = 1`,
	).Scan(&s.Judged, &s.Agreements)
	if err != nil {
		return Stats{}, fmt.Errorf("agreement stats: %w", err)
	}
	if s.Judged > 0 {
		s.AgreementRate = float64(s.Agreements) / float64(s.Judged)
	}
	return s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion queue
