package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vigilstack/vigil-heal/internal/models"
)

// Postgres is the durable ledger. Attempts and transitions are append-only
// rows with a serial sequence, which preserves completion order per issue;
// the issues table carries the last known state for restart resume.
type Postgres struct {
	pool   *pgxpool.Pool
	ranker *ranker
}

// NewPostgres connects, ensures the schema, and seeds the ranker from
// recorded attempt history.
func NewPostgres(ctx context.Context, databaseURL string, decay float64) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool, ranker: newRanker(decay)}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := p.seedRanker(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	queries := []string{
		`
		CREATE TABLE IF NOT EXISTS heal_issues (
			id TEXT PRIMARY KEY,
			key TEXT NOT NULL,
			rule TEXT NOT NULL,
			metric TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			last_seen_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ,
			actions TEXT[] NOT NULL DEFAULT '{}',
			emergency TEXT NOT NULL DEFAULT ''
		)
		`,
		`CREATE INDEX IF NOT EXISTS heal_issues_status_idx ON heal_issues(status)`,
		`
		CREATE TABLE IF NOT EXISTS heal_attempts (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			issue_id TEXT NOT NULL,
			issue_key TEXT NOT NULL,
			rule TEXT NOT NULL,
			action TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			score_before DOUBLE PRECISION NOT NULL DEFAULT 0,
			score_after DOUBLE PRECISION NOT NULL DEFAULT 0,
			manual BOOLEAN NOT NULL DEFAULT FALSE
		)
		`,
		`CREATE INDEX IF NOT EXISTS heal_attempts_issue_idx ON heal_attempts(issue_key)`,
		`CREATE INDEX IF NOT EXISTS heal_attempts_started_idx ON heal_attempts(started_at)`,
		`
		CREATE TABLE IF NOT EXISTS heal_transitions (
			seq BIGSERIAL PRIMARY KEY,
			issue_id TEXT NOT NULL,
			issue_key TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			reason TEXT NOT NULL DEFAULT ''
		)
		`,
		`CREATE INDEX IF NOT EXISTS heal_transitions_issue_idx ON heal_transitions(issue_id)`,
	}

	for _, query := range queries {
		if _, err := p.pool.Exec(ctx, query); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) seedRanker(ctx context.Context) error {
	rows, err := p.pool.Query(ctx, `SELECT rule, action, outcome FROM heal_attempts ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("seed ranker: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rule, action, outcome string
		if err := rows.Scan(&rule, &action, &outcome); err != nil {
			return fmt.Errorf("seed ranker: %w", err)
		}
		p.ranker.observe(rule, action, models.AttemptOutcome(outcome))
	}
	return rows.Err()
}

// RecordIssue persists a newly opened issue.
func (p *Postgres) RecordIssue(ctx context.Context, issue models.Issue) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO heal_issues (id, key, rule, metric, severity, status, detected_at, last_seen_at, closed_at, actions, emergency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			last_seen_at = EXCLUDED.last_seen_at
	`,
		issue.ID, issue.Key, issue.Rule, issue.Metric, string(issue.Severity),
		string(issue.Status), issue.DetectedAt, issue.LastSeenAt, issue.ClosedAt,
		issue.Actions, issue.Emergency,
	)
	return err
}

// RecordTransition appends one lifecycle step and advances the issue row.
func (p *Postgres) RecordTransition(ctx context.Context, tr models.IssueTransition) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO heal_transitions (issue_id, issue_key, from_status, to_status, at, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tr.IssueID, tr.IssueKey, string(tr.From), string(tr.To), tr.At, tr.Reason); err != nil {
		return err
	}

	var closedAt *time.Time
	if tr.To.Terminal() {
		at := tr.At
		closedAt = &at
	}
	if _, err := tx.Exec(ctx, `
		UPDATE heal_issues SET status = $2, closed_at = COALESCE($3, closed_at) WHERE id = $1
	`, tr.IssueID, string(tr.To), closedAt); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RecordAttempt appends one recovery attempt and feeds the ranker.
func (p *Postgres) RecordAttempt(ctx context.Context, attempt models.RecoveryAttempt) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO heal_attempts (id, issue_id, issue_key, rule, action, started_at, ended_at, outcome, error, score_before, score_after, manual)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		attempt.ID, attempt.IssueID, attempt.IssueKey, attempt.Rule, attempt.Action,
		attempt.StartedAt, attempt.EndedAt, string(attempt.Outcome), attempt.Error,
		attempt.ScoreBefore, attempt.ScoreAfter, attempt.Manual,
	)
	if err != nil {
		return err
	}
	p.ranker.observe(attempt.Rule, attempt.Action, attempt.Outcome)
	return nil
}

// Attempts returns recorded attempts matching the filter, oldest first.
func (p *Postgres) Attempts(ctx context.Context, f Filter) ([]models.RecoveryAttempt, error) {
	query := `
		SELECT id, issue_id, issue_key, rule, action, started_at, ended_at, outcome, error, score_before, score_after, manual
		FROM heal_attempts
		WHERE ($1 = '' OR issue_key = $1)
		  AND ($2::timestamptz IS NULL OR started_at >= $2)
		  AND ($3::timestamptz IS NULL OR started_at <= $3)
		ORDER BY seq
	`
	var from, to *time.Time
	if !f.From.IsZero() {
		from = &f.From
	}
	if !f.To.IsZero() {
		to = &f.To
	}

	rows, err := p.pool.Query(ctx, query, f.IssueKey, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RecoveryAttempt
	for rows.Next() {
		var a models.RecoveryAttempt
		var outcome string
		if err := rows.Scan(&a.ID, &a.IssueID, &a.IssueKey, &a.Rule, &a.Action,
			&a.StartedAt, &a.EndedAt, &outcome, &a.Error,
			&a.ScoreBefore, &a.ScoreAfter, &a.Manual); err != nil {
			return nil, err
		}
		a.Outcome = models.AttemptOutcome(outcome)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// ResumeRecovering returns issues whose last recorded state is not
// terminal, with tried actions reconstructed from attempt history.
func (p *Postgres) ResumeRecovering(ctx context.Context) ([]models.Issue, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, key, rule, metric, severity, status, detected_at, last_seen_at, actions, emergency
		FROM heal_issues
		WHERE status IN ('open', 'recovering', 'escalated')
		ORDER BY detected_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Issue
	for rows.Next() {
		var issue models.Issue
		var severity, status string
		if err := rows.Scan(&issue.ID, &issue.Key, &issue.Rule, &issue.Metric,
			&severity, &status, &issue.DetectedAt, &issue.LastSeenAt,
			&issue.Actions, &issue.Emergency); err != nil {
			return nil, err
		}
		issue.Severity = models.Severity(severity)
		issue.Status = models.IssueStatus(status)
		out = append(out, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		tried, err := p.triedActions(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Tried = tried
	}
	return out, nil
}

func (p *Postgres) triedActions(ctx context.Context, issueID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT ON (action) action FROM heal_attempts WHERE issue_id = $1 ORDER BY action
	`, issueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tried []string
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, err
		}
		tried = append(tried, action)
	}
	return tried, rows.Err()
}

// SuccessRate reports the decayed success probability for a (rule, action) pair.
func (p *Postgres) SuccessRate(rule, action string) (float64, bool) {
	return p.ranker.successRate(rule, action)
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
