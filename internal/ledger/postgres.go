package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver

	"github.com/llmule/broker/internal/classifier"
	"github.com/llmule/broker/internal/observability"
	"github.com/llmule/broker/internal/tokenomics"
)

// PostgresConfig contains PostgreSQL connection settings for the ledger
// store.
type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:         "localhost",
		Port:         5432,
		Database:     "llmule",
		SSLMode:      "disable",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

// PostgresGateway implements Gateway against a Postgres `balances` /
// `transactions` schema.
type PostgresGateway struct {
	db     *sql.DB
	log    *observability.Logger
	recon  Reconciler
}

// NewPostgresGateway opens a connection pool and verifies connectivity.
func NewPostgresGateway(cfg *PostgresConfig, log *observability.Logger, recon Reconciler) (*PostgresGateway, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if recon == nil {
		recon = &LoggingReconciler{Log: log}
	}
	return &PostgresGateway{db: db, log: log, recon: recon}, nil
}

// NewPostgresGatewayFromDB wraps an already-open *sql.DB, used by tests
// against go-sqlmock.
func NewPostgresGatewayFromDB(db *sql.DB, log *observability.Logger, recon Reconciler) *PostgresGateway {
	if recon == nil {
		recon = &LoggingReconciler{Log: log}
	}
	return &PostgresGateway{db: db, log: log, recon: recon}
}

// Close closes the underlying connection pool.
func (g *PostgresGateway) Close() error {
	return g.db.Close()
}

// DBStats exposes the underlying connection pool's stats for the
// periodic metrics updater.
func (g *PostgresGateway) DBStats() sql.DBStats {
	return g.db.Stats()
}

// DB returns the underlying connection, for constructing a
// PostgresReconciler or PostgresStore sharing the same pool.
func (g *PostgresGateway) DB() *sql.DB {
	return g.db
}

// EnsureBalance idempotently creates a balance row seeded with
// WelcomeAmount. The insert is an upsert-if-absent (ON CONFLICT DO
// NOTHING); concurrent callers all attempt the insert but only one sees
// RowsAffected == 1, and only that caller records the welcome_bonus
// transaction, so two concurrent calls converge to exactly one deposit.
func (g *PostgresGateway) EnsureBalance(ctx context.Context, accountID string) error {
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO balances (account_id, mule_micros, last_updated)
		VALUES ($1, $2, now())
		ON CONFLICT (account_id) DO NOTHING`,
		accountID, int64(tokenomics.WelcomeAmount))
	if err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ensure balance rows affected: %w", err)
	}
	if n == 0 {
		return nil
	}

	return g.RecordTransaction(ctx, Transaction{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Kind:       KindDeposit,
		ConsumerID: accountID,
		MuleAmount: tokenomics.WelcomeAmount,
		Metadata:   map[string]string{"reason": "welcome_bonus"},
	})
}

// GetBalance returns the account's balance, ensuring it exists first.
func (g *PostgresGateway) GetBalance(ctx context.Context, accountID string) (tokenomics.Mule, error) {
	if err := g.EnsureBalance(ctx, accountID); err != nil {
		return 0, err
	}
	var micros int64
	err := g.db.QueryRowContext(ctx,
		`SELECT mule_micros FROM balances WHERE account_id = $1`, accountID,
	).Scan(&micros)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return tokenomics.Mule(micros), nil
}

// Credit atomically adds amount to the account's balance.
func (g *PostgresGateway) Credit(ctx context.Context, accountID string, amount tokenomics.Mule) error {
	return g.adjustBalance(ctx, g.db, accountID, int64(amount))
}

// Debit atomically subtracts amount from the account's balance.
func (g *PostgresGateway) Debit(ctx context.Context, accountID string, amount tokenomics.Mule) error {
	return g.adjustBalance(ctx, g.db, accountID, -int64(amount))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (g *PostgresGateway) adjustBalance(ctx context.Context, ex execer, accountID string, deltaMicros int64) error {
	if deltaMicros == 0 {
		return nil
	}
	_, err := ex.ExecContext(ctx, `
		UPDATE balances SET mule_micros = mule_micros + $1, last_updated = now()
		WHERE account_id = $2`,
		deltaMicros, accountID)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	return nil
}

// RecordTransaction appends tx to the transaction log.
func (g *PostgresGateway) RecordTransaction(ctx context.Context, tx Transaction) error {
	return g.recordTransaction(ctx, g.db, tx)
}

func (g *PostgresGateway) recordTransaction(ctx context.Context, ex execer, tx Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	metadata, err := json.Marshal(tx.Metadata)
	if err != nil {
		return fmt.Errorf("marshal transaction metadata: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO transactions (
			id, ts, kind, consumer_id, provider_id, model, tier,
			prompt_tokens, completion_tokens, total_tokens,
			mule_micros, fee_micros, duration_seconds, tokens_per_second, metadata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		tx.ID, tx.Timestamp, tx.Kind, tx.ConsumerID, nullableString(tx.ProviderID), tx.Model, string(tx.Tier),
		tx.Usage.PromptTokens, tx.Usage.CompletionTokens, tx.Usage.TotalTokens,
		int64(tx.MuleAmount), int64(tx.PlatformFee), tx.Performance.DurationSeconds, tx.Performance.TokensPerSecond,
		metadata)
	if err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Settle implements the Dispatcher's post-completion accounting per the
// four-step settlement rule: self-service records without moving balance,
// anonymous providers receive no credit, zero usage skips balance moves
// entirely, and everything else debits the consumer and credits the
// provider its post-fee earnings inside one database transaction.
func (g *PostgresGateway) Settle(ctx context.Context, consumerID, providerID, model string, tier classifier.Tier, usage Usage, perf Performance) (SettleResult, error) {
	m := tokenomics.TokensToMules(int64(usage.TotalTokens), tier)
	fee := tokenomics.PlatformFee(m)
	earnings := tokenomics.ProviderEarnings(m)

	selfService := providerID != "" && providerID == consumerID

	tx := Transaction{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		ConsumerID:  consumerID,
		ProviderID:  providerID,
		Model:       model,
		Tier:        tier,
		Usage:       usage,
		MuleAmount:  m,
		PlatformFee: fee,
		Performance: perf,
	}

	result := SettleResult{ProviderEarnings: earnings, ConsumerCost: m}

	switch {
	case selfService:
		tx.Kind = KindSelfService
		tx.PlatformFee = 0
		result.ConsumerCost = 0
		result.ProviderEarnings = 0
		if err := g.RecordTransaction(ctx, tx); err != nil {
			return SettleResult{}, err
		}
		result.Transaction = tx
		return result, nil
	case m == 0:
		tx.Kind = KindConsumption
		if err := g.RecordTransaction(ctx, tx); err != nil {
			return SettleResult{}, err
		}
		result.Transaction = tx
		result.ConsumerCost = 0
		result.ProviderEarnings = 0
		return result, nil
	case providerID == "":
		// Anonymous provider: consumer is debited, but no account
		// receives the credit. Recorded as consumption for audit
		// purposes even though no provider account exists.
		tx.Kind = KindConsumption
		if err := g.Debit(ctx, consumerID, m); err != nil {
			return SettleResult{}, err
		}
		if err := g.RecordTransaction(ctx, tx); err != nil {
			return SettleResult{}, err
		}
		result.Transaction = tx
		result.ProviderEarnings = 0
		return result, nil
	default:
		tx.Kind = KindConsumption
		if err := g.settleAtomic(ctx, consumerID, providerID, m, earnings, tx); err != nil {
			return SettleResult{}, err
		}
		result.Transaction = tx
		return result, nil
	}
}

// settleAtomic performs the debit/credit/record triple inside a single
// database transaction. If the store cannot complete the transaction, the
// failure is surfaced to the reconciler before the error is returned --
// it is never swallowed.
func (g *PostgresGateway) settleAtomic(ctx context.Context, consumerID, providerID string, amount, earnings tokenomics.Mule, tx Transaction) error {
	dbTx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		g.recon.Reconcile(ctx, ReconciliationEntry{
			Timestamp: time.Now(), ConsumerID: consumerID, ProviderID: providerID,
			MuleAmount: amount, Reason: fmt.Sprintf("begin transaction: %v", err),
		})
		return fmt.Errorf("settle: begin transaction: %w", err)
	}

	if err := g.adjustBalance(ctx, dbTx, consumerID, -int64(amount)); err != nil {
		g.rollbackAndReconcile(ctx, dbTx, consumerID, providerID, amount, err)
		return err
	}
	if err := g.adjustBalance(ctx, dbTx, providerID, int64(earnings)); err != nil {
		g.rollbackAndReconcile(ctx, dbTx, consumerID, providerID, amount, err)
		return err
	}
	if err := g.recordTransaction(ctx, dbTx, tx); err != nil {
		g.rollbackAndReconcile(ctx, dbTx, consumerID, providerID, amount, err)
		return err
	}

	if err := dbTx.Commit(); err != nil {
		g.recon.Reconcile(ctx, ReconciliationEntry{
			Timestamp: time.Now(), ConsumerID: consumerID, ProviderID: providerID,
			MuleAmount: amount, Reason: fmt.Sprintf("commit: %v", err),
		})
		return fmt.Errorf("settle: commit: %w", err)
	}
	return nil
}

func (g *PostgresGateway) rollbackAndReconcile(ctx context.Context, dbTx *sql.Tx, consumerID, providerID string, amount tokenomics.Mule, cause error) {
	if rbErr := dbTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
		cause = fmt.Errorf("%w (rollback also failed: %v)", cause, rbErr)
	}
	g.recon.Reconcile(ctx, ReconciliationEntry{
		Timestamp: time.Now(), ConsumerID: consumerID, ProviderID: providerID,
		MuleAmount: amount, Reason: cause.Error(),
	})
}

// ListTransactions returns accountID's transactions, newest first. A
// zero or negative limit defaults to 100.
func (g *PostgresGateway) ListTransactions(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT id, ts, kind, consumer_id, provider_id, model, tier,
			prompt_tokens, completion_tokens, total_tokens,
			mule_micros, fee_micros, duration_seconds, tokens_per_second, metadata
		FROM transactions
		WHERE consumer_id = $1 OR provider_id = $1
		ORDER BY ts DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var tx Transaction
		var providerID sql.NullString
		var tier string
		var muleMicros, feeMicros int64
		var metadata []byte
		if err := rows.Scan(
			&tx.ID, &tx.Timestamp, &tx.Kind, &tx.ConsumerID, &providerID, &tx.Model, &tier,
			&tx.Usage.PromptTokens, &tx.Usage.CompletionTokens, &tx.Usage.TotalTokens,
			&muleMicros, &feeMicros, &tx.Performance.DurationSeconds, &tx.Performance.TokensPerSecond,
			&metadata,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.ProviderID = providerID.String
		tx.Tier = classifier.Tier(tier)
		tx.MuleAmount = tokenomics.Mule(muleMicros)
		tx.PlatformFee = tokenomics.Mule(feeMicros)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal transaction metadata: %w", err)
			}
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

// LoggingReconciler logs every reconciliation entry at WARN level. It is
// the default Reconciler; production deployments may swap in one that
// also writes to a durable dead-letter table.
type LoggingReconciler struct {
	Log *observability.Logger
}

// Reconcile logs entry. It never panics and never blocks.
func (r *LoggingReconciler) Reconcile(_ context.Context, entry ReconciliationEntry) {
	if r.Log == nil {
		return
	}
	r.Log.RedactedWarn("ledger settlement reconciliation required",
		"consumer_id", entry.ConsumerID,
		"provider_id", entry.ProviderID,
		"mule_amount", entry.MuleAmount.Float64(),
		"reason", entry.Reason,
	)
}
