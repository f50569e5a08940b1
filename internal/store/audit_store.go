package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditStore persists per-call audit rows and provider health transitions.
// Writes are best-effort from the caller's perspective: the router never
// blocks a call on audit persistence.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(connStr string) (*AuditStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &AuditStore{db: db}, nil
}

func (s *AuditStore) Close() error {
	return s.db.Close()
}

type CallAudit struct {
	RequestID  uuid.UUID
	Method     string
	Provider   string
	Outcome    string
	DurationMs int
	Attempts   int
	CreatedAt  time.Time
}

func (s *AuditStore) LogCallAudit(ctx context.Context, audit *CallAudit) error {
	query := `
		INSERT INTO routing.call_audit (request_id, method, provider, outcome, duration_ms, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		audit.RequestID, audit.Method, audit.Provider, audit.Outcome,
		audit.DurationMs, audit.Attempts, audit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call audit: %w", err)
	}

	return nil
}

type ProviderTransition struct {
	Provider  string
	FromState string
	ToState   string
	Reason    string
	At        time.Time
}

func (s *AuditStore) LogProviderTransition(ctx context.Context, tr *ProviderTransition) error {
	query := `
		INSERT INTO routing.provider_transitions (provider, from_state, to_state, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.db.ExecContext(ctx, query,
		tr.Provider, tr.FromState, tr.ToState, tr.Reason, tr.At,
	)
	if err != nil {
		return fmt.Errorf("failed to insert provider transition: %w", err)
	}

	return nil
}

// RecentTransitions returns the newest transitions for one provider, most
// recent first.
func (s *AuditStore) RecentTransitions(ctx context.Context, provider string, limit int) ([]ProviderTransition, error) {
	query := `
		SELECT provider, from_state, to_state, reason, occurred_at
		FROM routing.provider_transitions
		WHERE provider = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, provider, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []ProviderTransition
	for rows.Next() {
		var tr ProviderTransition
		if err := rows.Scan(&tr.Provider, &tr.FromState, &tr.ToState, &tr.Reason, &tr.At); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, tr)
	}

	return transitions, rows.Err()
}

// CleanupCallAudit deletes audit rows older than the retention window and
// returns the number removed.
func (s *AuditStore) CleanupCallAudit(ctx context.Context, retention time.Duration) (int64, error) {
	query := `DELETE FROM routing.call_audit WHERE created_at < $1`

	res, err := s.db.ExecContext(ctx, query, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup call audit: %w", err)
	}

	return res.RowsAffected()
}
