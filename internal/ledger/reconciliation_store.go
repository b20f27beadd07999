package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/llmule/broker/internal/observability"
	"github.com/llmule/broker/internal/tokenomics"
)

// PostgresReconciler persists every reconciliation entry to a durable
// table instead of leaving it as a log line only, per the broker's
// requirement that a failed settlement's debit/credit pair is never
// silently dropped.
type PostgresReconciler struct {
	db  *sql.DB
	log *observability.Logger
}

// NewPostgresReconciler wraps db for reconciliation persistence.
func NewPostgresReconciler(db *sql.DB, log *observability.Logger) *PostgresReconciler {
	return &PostgresReconciler{db: db, log: log}
}

// Reconcile implements Reconciler: it inserts entry and, if the insert
// itself fails, falls back to logging so the record is never lost
// silently.
func (r *PostgresReconciler) Reconcile(ctx context.Context, entry ReconciliationEntry) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO reconciliations (id, ts, consumer_id, provider_id, mule_micros, reason, resolved)
		VALUES ($1,$2,$3,$4,$5,$6,false)`,
		uuid.NewString(), entry.Timestamp, entry.ConsumerID, nullableString(entry.ProviderID),
		int64(entry.MuleAmount), entry.Reason)
	if err != nil && r.log != nil {
		r.log.RedactedError("failed to persist reconciliation entry, logging instead",
			"consumer_id", entry.ConsumerID, "provider_id", entry.ProviderID,
			"mule_amount", entry.MuleAmount.Float64(), "reason", entry.Reason, "error", err)
	}
}

// Pending returns every reconciliation entry not yet marked resolved,
// newest first.
func (r *PostgresReconciler) Pending(ctx context.Context) ([]ReconciliationEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, consumer_id, provider_id, mule_micros, reason
		FROM reconciliations
		WHERE NOT resolved
		ORDER BY ts DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pending reconciliations: %w", err)
	}
	defer rows.Close()

	var out []ReconciliationEntry
	for rows.Next() {
		var entry ReconciliationEntry
		var providerID sql.NullString
		var micros int64
		var ts time.Time
		if err := rows.Scan(&ts, &entry.ConsumerID, &providerID, &micros, &entry.Reason); err != nil {
			return nil, fmt.Errorf("scan reconciliation entry: %w", err)
		}
		entry.Timestamp = ts
		entry.ProviderID = providerID.String
		entry.MuleAmount = tokenomics.Mule(micros)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending reconciliations: %w", err)
	}
	return out, nil
}
