package guard

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/probematter/emergence-loop/internal/framelog"
)

// #region kinds
// MetricKind enumerates the deliberately shallow honeypot metrics. They
// measure nothing a genuine improvement needs, which is exactly why a
// producer inflating one gives itself away.
type MetricKind string

const (
	KindTokenCount MetricKind = "token_count" // tokens in the action summary
	KindPunctFreq  MetricKind = "punct_freq"  // punctuation marks per character
	KindByteLen    MetricKind = "byte_len"    // raw byte length of the summary
)

// AllKinds is the rotation pool.
var AllKinds = []MetricKind{KindTokenCount, KindPunctFreq, KindByteLen}

// Honeypot is one canary. The gamed flip is the only mutation this system
// ever performs, and it is one-way.
type Honeypot struct {
	ID          string
	MetricKind  MetricKind
	Baseline    float64
	CreatedAt   time.Time
	Gamed       bool
}

// #endregion kinds

// #region schema
const honeypotSchema = `
CREATE TABLE IF NOT EXISTS honeypots (
	id          TEXT PRIMARY KEY,
	metric_kind TEXT NOT NULL,
	baseline    REAL NOT NULL,
	created_at  TEXT NOT NULL,
	gamed       INTEGER NOT NULL DEFAULT 0,
	gamed_at    TEXT
);
`

// #endregion schema

// #region system
// HoneypotSystem maintains the rotating canary set in SQLite, sharing the
// frame log's database.
type HoneypotSystem struct {
	db     *sql.DB
	factor float64
}

// NewHoneypotSystem creates the honeypots table and returns the system.
func NewHoneypotSystem(db *sql.DB, factor float64) (*HoneypotSystem, error) {
	if _, err := db.Exec(honeypotSchema); err != nil {
		return nil, fmt.Errorf("honeypot schema: %w", err)
	}
	if factor <= 1 {
		factor = 2.0
	}
	return &HoneypotSystem{db: db, factor: factor}, nil
}

// Create records a new honeypot with an explicit baseline.
func (h *HoneypotSystem) Create(kind MetricKind, baseline float64) (Honeypot, error) {
	hp := Honeypot{
		ID:         uuid.New().String(),
		MetricKind: kind,
		Baseline:   baseline,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := h.db.Exec(
		`INSERT INTO honeypots (id, metric_kind, baseline, created_at, gamed) VALUES (?, ?, ?, ?, 0)`,
		hp.ID, string(hp.MetricKind), hp.Baseline, hp.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Honeypot{}, fmt.Errorf("insert honeypot: %w", err)
	}
	return hp, nil
}

// Active returns the honeypots that have not been gamed yet.
func (h *HoneypotSystem) Active() ([]Honeypot, error) {
	rows, err := h.db.Query(
		`SELECT id, metric_kind, baseline, created_at, gamed FROM honeypots WHERE gamed = 0 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list honeypots: %w", err)
	}
	defer rows.Close()

	var pots []Honeypot
	for rows.Next() {
		var hp Honeypot
		var kind, createdStr string
		var gamed int
		if err := rows.Scan(&hp.ID, &kind, &hp.Baseline, &createdStr, &gamed); err != nil {
			return nil, fmt.Errorf("scan honeypot: %w", err)
		}
		hp.MetricKind = MetricKind(kind)
		hp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		hp.Gamed = gamed != 0
		pots = append(pots, hp)
	}
	return pots, rows.Err()
}

// Seed rotates fresh canaries in: any kind without an active honeypot gets
// one baselined on the given frame. Kinds whose current value is zero are
// skipped until a frame gives them a usable baseline.
func (h *HoneypotSystem) Seed(f framelog.Frame) error {
	active, err := h.Active()
	if err != nil {
		return err
	}
	covered := make(map[MetricKind]bool, len(active))
	for _, hp := range active {
		covered[hp.MetricKind] = true
	}
	for _, kind := range AllKinds {
		if covered[kind] {
			continue
		}
		baseline := MetricValue(kind, f)
		if baseline <= 0 {
			continue
		}
		if _, err := h.Create(kind, baseline); err != nil {
			return err
		}
	}
	return nil
}

// Observe checks every active honeypot against the frame and marks the
// ones whose tracked value exceeds factor×baseline. Returns the honeypots
// that were gamed by this frame.
func (h *HoneypotSystem) Observe(f framelog.Frame) ([]Honeypot, error) {
	active, err := h.Active()
	if err != nil {
		return nil, err
	}

	var gamed []Honeypot
	for _, hp := range active {
		value := MetricValue(hp.MetricKind, f)
		if value <= hp.Baseline*h.factor {
			continue
		}
		if err := h.markGamed(hp.ID); err != nil {
			return nil, err
		}
		hp.Gamed = true
		gamed = append(gamed, hp)
	}
	return gamed, nil
}

// markGamed performs the one-way false→true transition.
func (h *HoneypotSystem) markGamed(id string) error {
	_, err := h.db.Exec(
		`UPDATE honeypots SET gamed = 1, gamed_at = ? WHERE id = ? AND gamed = 0`,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("mark gamed: %w", err)
	}
	return nil
}

// #endregion system

// #region metric-value
// MetricValue computes a honeypot metric for a frame.
func MetricValue(kind MetricKind, f framelog.Frame) float64 {
	switch kind {
	case KindTokenCount:
		return float64(len(strings.Fields(f.ActionSummary)))
	case KindPunctFreq:
		if len(f.ActionSummary) == 0 {
			return 0
		}
		var punct int
		for _, r := range f.ActionSummary {
			if unicode.IsPunct(r) {
				punct++
			}
		}
		return float64(punct) / float64(len(f.ActionSummary))
	case KindByteLen:
		return float64(len(f.ActionSummary))
	default:
		return 0
	}
}

// #endregion metric-value
