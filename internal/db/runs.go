package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/pipeline"
	"github.com/banshee-data/brv.report/internal/zones"
)

// ErrRunNotFound is returned when a run ID has no stored report.
var ErrRunNotFound = errors.New("run not found")

// Comparison status values.
const (
	StatusComputed  = "computed"
	StatusReference = "reference"
	StatusSkipped   = "skipped"
)

// RunSummary is one row of the runs table.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Version    string    `json:"version"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Subjects   int       `json:"subjects"`
	Excluded   int       `json:"excluded"`
}

// ComparisonRow is a stored comparison. Statistics that were not computed
// are undefined.
type ComparisonRow struct {
	Comparison string         `json:"comparison"`
	Status     string         `json:"status"`
	N          int            `json:"n"`
	Method     string         `json:"method,omitempty"`
	R          cpet.Metric    `json:"r"`
	P          cpet.Metric    `json:"p"`
	CILow      cpet.Metric    `json:"ci_low"`
	CIHigh     cpet.Metric    `json:"ci_high"`
	Bias       cpet.Metric    `json:"bias"`
	LowerLoA   cpet.Metric    `json:"lower_loa"`
	UpperLoA   cpet.Metric    `json:"upper_loa"`
	SEE        cpet.Metric    `json:"see"`
	Kind       cpet.ErrorKind `json:"kind,omitempty"`
	Message    string         `json:"message,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullMetric(v sql.NullFloat64) cpet.Metric {
	if !v.Valid {
		return cpet.Undefined()
	}
	return cpet.Metric(v.Float64)
}

// SaveReport stores rep and its per-subject, exclusion and comparison rows
// in one transaction. Saving a run ID twice is an error.
func (db *DB) SaveReport(ctx context.Context, rep *pipeline.Report) error {
	if rep == nil || rep.RunID == "" {
		return fmt.Errorf("report has no run id")
	}
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	var cfg []byte
	if rep.Config != nil {
		if cfg, err = json.Marshal(rep.Config); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
	}
	excluded := 0
	for _, s := range rep.Subjects {
		if s.Excluded {
			excluded++
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, version, started_at, finished_at, subjects, excluded, config_json, report_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.Version, formatTime(rep.StartedAt), formatTime(rep.FinishedAt),
		len(rep.Subjects), excluded, string(cfg), string(body))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rep.RunID, err)
	}

	if err := insertSubjects(ctx, tx, rep); err != nil {
		return err
	}
	for _, e := range rep.Exclusions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO exclusions (run_id, subject_id, stage, kind, message)
			VALUES (?, ?, ?, ?, ?)`,
			rep.RunID, e.SubjectID, string(e.Stage), string(e.Kind), e.Message)
		if err != nil {
			return fmt.Errorf("insert exclusion for %s: %w", e.SubjectID, err)
		}
	}
	if err := insertComparisons(ctx, tx, rep); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSubjects(ctx context.Context, tx *sql.Tx, rep *pipeline.Report) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO subject_results (run_id, subject_id, excluded, samples, valid,
			vt1_est, vt2_est, vt1_gold, vt2_gold, vt1_augmented, vt2_augmented,
			rmssd_zone1_ms, rmssd_zone2_ms, rmssd_zone3_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range rep.Subjects {
		var vt1, vt2, g1, g2, a1, a2 interface{}
		if e := s.Primary.Estimate; e != nil {
			vt1, vt2 = e.VT1, e.VT2
		}
		if s.Gold != nil {
			g1, g2 = s.Gold.VT1, s.Gold.VT2
		}
		if a := s.Augmented; a != nil && a.Estimate != nil {
			a1, a2 = a.Estimate.VT1, a.Estimate.VT2
		}
		rmssd := make([]interface{}, len(zones.All))
		for _, z := range zones.All {
			if i := z.Index(); i < len(s.Primary.BRV) {
				rmssd[i] = s.Primary.BRV[i].RMSSD.NullFloat()
			}
		}
		_, err := stmt.ExecContext(ctx, rep.RunID, s.Subject.ID, s.Excluded, s.Samples, s.Valid,
			vt1, vt2, g1, g2, a1, a2, rmssd[0], rmssd[1], rmssd[2])
		if err != nil {
			return fmt.Errorf("insert subject %s: %w", s.Subject.ID, err)
		}
	}
	return nil
}

func insertComparisons(ctx context.Context, tx *sql.Tx, rep *pipeline.Report) error {
	const q = `
		INSERT INTO comparisons (run_id, comparison, status, n, method, r, p, ci_low, ci_high,
			bias, lower_loa, upper_loa, see, error_kind, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, c := range rep.Comparisons {
		ba := c.BlandAltman
		_, err := tx.ExecContext(ctx, q, rep.RunID, c.Comparison, StatusComputed, c.N, string(c.Method),
			c.R.NullFloat(), c.P.NullFloat(), c.CILow.NullFloat(), c.CIHigh.NullFloat(),
			ba.Bias.NullFloat(), ba.LowerLoA.NullFloat(), ba.UpperLoA.NullFloat(),
			c.Regression.SEE.NullFloat(), nil, nil)
		if err != nil {
			return fmt.Errorf("insert comparison %s: %w", c.Comparison, err)
		}
	}
	for _, c := range rep.References {
		_, err := tx.ExecContext(ctx, q, rep.RunID, c.Comparison, StatusReference, c.N, "t_test",
			nil, c.P.NullFloat(), c.CILow.NullFloat(), c.CIHigh.NullFloat(),
			c.MeanDiff.NullFloat(), nil, nil, nil, nil, nil)
		if err != nil {
			return fmt.Errorf("insert comparison %s: %w", c.Comparison, err)
		}
	}
	for _, s := range rep.Skipped {
		_, err := tx.ExecContext(ctx, q, rep.RunID, s.Comparison, StatusSkipped, s.N, nil,
			nil, nil, nil, nil, nil, nil, nil, nil, string(s.Kind), s.Message)
		if err != nil {
			return fmt.Errorf("insert skipped comparison %s: %w", s.Comparison, err)
		}
	}
	return nil
}

// GetReport returns the stored report of a run.
func (db *DB) GetReport(ctx context.Context, runID string) (*pipeline.Report, error) {
	var body string
	err := db.QueryRowContext(ctx, `SELECT report_json FROM runs WHERE run_id = ?`, runID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rep pipeline.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", runID, err)
	}
	return &rep, nil
}

// ListRuns returns stored runs, most recent first.
func (db *DB) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, version, started_at, finished_at, subjects, excluded
		FROM runs ORDER BY started_at DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var started, finished string
		if err := rows.Scan(&r.RunID, &r.Version, &started, &finished, &r.Subjects, &r.Excluded); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s started_at: %w", r.RunID, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("run %s finished_at: %w", r.RunID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Comparisons returns the comparison rows of a run ordered by name.
func (db *DB) Comparisons(ctx context.Context, runID string) ([]ComparisonRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT comparison, status, n, method, r, p, ci_low, ci_high, bias, lower_loa, upper_loa, see,
			error_kind, message
		FROM comparisons WHERE run_id = ? ORDER BY comparison`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ComparisonRow
	for rows.Next() {
		var c ComparisonRow
		var method, kind, message sql.NullString
		var r, p, lo, hi, bias, lloa, uloa, see sql.NullFloat64
		if err := rows.Scan(&c.Comparison, &c.Status, &c.N, &method, &r, &p, &lo, &hi,
			&bias, &lloa, &uloa, &see, &kind, &message); err != nil {
			return nil, err
		}
		c.Method = method.String
		c.Kind = cpet.ErrorKind(kind.String)
		c.Message = message.String
		c.R, c.P = nullMetric(r), nullMetric(p)
		c.CILow, c.CIHigh = nullMetric(lo), nullMetric(hi)
		c.Bias, c.LowerLoA, c.UpperLoA = nullMetric(bias), nullMetric(lloa), nullMetric(uloa)
		c.SEE = nullMetric(see)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its dependent rows.
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return nil
}
