package logging

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// #region log-verdict
// LogVerdict writes one evaluation's raw and final verdict to the
// verdict_log table so the offline tools can list and replay decisions.
func LogVerdict(db *sql.DB, entry VerdictEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO verdict_log (seq, raw_emerged, raw_confidence, reasons, flags, gaming_score,
		                          quality_score, final_confidence, final_emerged, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Seq,
		boolToInt(entry.RawEmerged),
		entry.RawConfidence,
		nullIfEmpty(strings.Join(entry.Reasons, ",")),
		nullIfEmpty(strings.Join(entry.Flags, ",")),
		entry.GamingScore,
		entry.QualityScore,
		entry.FinalConfidence,
		boolToInt(entry.FinalEmerged),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log verdict: %w", err)
	}
	return nil
}

// #endregion log-verdict

// #region list-verdicts
// ListVerdicts returns the most recent verdict entries, newest first.
func ListVerdicts(db *sql.DB, limit int) ([]VerdictEntry, error) {
	rows, err := db.Query(
		`SELECT seq, raw_emerged, raw_confidence, reasons, flags, gaming_score,
		        quality_score, final_confidence, final_emerged, created_at
		 FROM verdict_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var entries []VerdictEntry
	for rows.Next() {
		var e VerdictEntry
		var rawEmerged, finalEmerged int
		var reasons, flags sql.NullString
		var createdStr string
		if err := rows.Scan(
			&e.Seq, &rawEmerged, &e.RawConfidence, &reasons, &flags, &e.GamingScore,
			&e.QualityScore, &e.FinalConfidence, &finalEmerged, &createdStr,
		); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		e.RawEmerged = rawEmerged != 0
		e.FinalEmerged = finalEmerged != 0
		if reasons.Valid && reasons.String != "" {
			e.Reasons = strings.Split(reasons.String, ",")
		}
		if flags.Valid && flags.String != "" {
			e.Flags = strings.Split(flags.String, ",")
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion list-verdicts

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
