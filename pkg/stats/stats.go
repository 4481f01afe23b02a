// Package stats computes aggregate statistics over normalized output
// files using DuckDB's JSON reader.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/combatscribe/combatscribe/pkg/scriberr"
	"github.com/combatscribe/combatscribe/pkg/sessionio"
)

// Summary aggregates a whole output directory.
type Summary struct {
	Sessions            int64
	Triples             int64
	Speakers            int64
	AvgBeforeUtterances float64
	AvgCommands         float64
	AvgTargets          float64
	AvgHistory          float64
}

// SessionCount is one per-session row in a breakdown.
type SessionCount struct {
	SessionID string
	Triples   int64
}

// SpeakerCount is one speaker row in a leaderboard.
type SpeakerCount struct {
	SpeakerID string
	Triples   int64
}

// Collector runs analytical queries against JSONL output files.
type Collector struct {
	db *sql.DB
}

// NewCollector opens an in-memory DuckDB instance.
func NewCollector() (*Collector, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	return &Collector{db: db}, nil
}

// Close releases the DuckDB connection.
func (c *Collector) Close() error {
	return c.db.Close()
}

// outputGlob validates that dir contains output files and returns the
// glob DuckDB should scan.
func outputGlob(dir string) (string, error) {
	pattern := filepath.Join(dir, "*.jsonl")
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return "", scriberr.Wrapf(err, scriberr.CodeFileNotFound, "listing %s", dir)
	}
	if len(paths) == 0 {
		return "", scriberr.New(scriberr.CodeFileNotFound, fmt.Sprintf("no output files found under %s", dir))
	}
	return pattern, nil
}

// sqlQuote escapes a path for embedding in a single-quoted SQL literal.
func sqlQuote(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func readSource(glob string) string {
	return fmt.Sprintf(`read_json_auto('%s', format='newline_delimited', filename=true)`, sqlQuote(glob))
}

// Summarize computes the directory-wide summary.
func (c *Collector) Summarize(ctx context.Context, dir string) (*Summary, error) {
	glob, err := outputGlob(dir)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			count(DISTINCT filename),
			count(*),
			count(DISTINCT speaker_id),
			avg(coalesce(len(before_utterances), 0)),
			avg(coalesce(len(commands_norm), 0)),
			avg(coalesce(len(targets_after), 0)),
			avg(coalesce(len(utterance_history), 0))
		FROM %s
	`, readSource(glob))

	var s Summary
	row := c.db.QueryRowContext(ctx, query)
	if err := row.Scan(&s.Sessions, &s.Triples, &s.Speakers,
		&s.AvgBeforeUtterances, &s.AvgCommands, &s.AvgTargets, &s.AvgHistory); err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeExportErr, "summary query failed")
	}
	return &s, nil
}

// PerSession returns triple counts per session, largest first.
func (c *Collector) PerSession(ctx context.Context, dir string) ([]SessionCount, error) {
	glob, err := outputGlob(dir)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT filename, count(*)
		FROM %s
		GROUP BY filename
		ORDER BY count(*) DESC, filename
	`, readSource(glob))

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeExportErr, "session query failed")
	}
	defer rows.Close()

	var out []SessionCount
	for rows.Next() {
		var filename string
		var sc SessionCount
		if err := rows.Scan(&filename, &sc.Triples); err != nil {
			return nil, scriberr.Wrap(err, scriberr.CodeExportErr, "session row scan failed")
		}
		sc.SessionID = sessionio.SessionID(filename)
		out = append(out, sc)
	}
	return out, rows.Err()
}

// TopSpeakers returns the most frequent speakers across the directory.
func (c *Collector) TopSpeakers(ctx context.Context, dir string, limit int) ([]SpeakerCount, error) {
	if limit <= 0 {
		limit = 10
	}
	glob, err := outputGlob(dir)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT speaker_id, count(*)
		FROM %s
		GROUP BY speaker_id
		ORDER BY count(*) DESC, speaker_id
		LIMIT %d
	`, readSource(glob), limit)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, scriberr.Wrap(err, scriberr.CodeExportErr, "speaker query failed")
	}
	defer rows.Close()

	var out []SpeakerCount
	for rows.Next() {
		var sc SpeakerCount
		if err := rows.Scan(&sc.SpeakerID, &sc.Triples); err != nil {
			return nil, scriberr.Wrap(err, scriberr.CodeExportErr, "speaker row scan failed")
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}
