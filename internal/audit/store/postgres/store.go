// Package postgres persists the two record streams, signals, and the outbox
// in PostgreSQL. The dual insert runs inside one transaction; the internal
// table's foreign key back to the customer table means a standalone internal
// insert is rejected by the store itself, not just by application logic.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"chronicle/internal/audit"
	"chronicle/pkg/platform/sentinel"
	txcontext "chronicle/pkg/platform/tx"
)

// Store implements the audit record, signal, and outbox stores on PostgreSQL.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// Option configures a Store instance.
type Option func(*Store)

// WithCommandTimeout bounds every statement so a stalled query fails fast
// instead of exhausting the pool.
func WithCommandTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// New constructs a PostgreSQL-backed audit store.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, timeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// runInTx executes fn inside a transaction. A transaction already carried by
// the context is reused and left uncommitted for its owner; otherwise one is
// opened and committed here.
func (s *Store) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if tx, ok := txcontext.From(ctx); ok {
		return fn(tx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// InsertPair writes the customer record, the internal record, and the outbox
// row atomically. On any failure all three roll back; readers never observe a
// partial pair.
func (s *Store) InsertPair(ctx context.Context, customer audit.CustomerRecord, internal audit.InternalRecord, outboxPayload []byte) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	quality, err := marshalBag(customer.QualityMetrics)
	if err != nil {
		return fmt.Errorf("encode quality metrics: %w", err)
	}
	customerMeta, err := marshalBag(customer.Metadata)
	if err != nil {
		return fmt.Errorf("encode customer metadata: %w", err)
	}
	internalMeta, err := marshalBag(internal.Metadata)
	if err != nil {
		return fmt.Errorf("encode internal metadata: %w", err)
	}

	return s.runInTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO customer_records (
				correlation_id, timestamp, user_id, workload_id,
				event_type, phase, status, message,
				quality_metrics, metadata
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			customer.CorrelationID, customer.Timestamp, customer.UserID, customer.WorkloadID,
			customer.EventType, customer.Phase, customer.Status, customer.Message,
			quality, customerMeta,
		)
		if err != nil {
			return fmt.Errorf("insert customer record: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO internal_records (
				correlation_id, timestamp, user_id, workload_id,
				event_type, internal_cost, customer_charge, margin_percent,
				provider_name, model_name, execution_time_ms, error_details, metadata
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`,
			internal.CorrelationID, internal.Timestamp, internal.UserID, internal.WorkloadID,
			internal.EventType, internal.InternalCost, internal.CustomerCharge, internal.MarginPercent,
			internal.ProviderName, internal.ModelName, internal.ExecutionTimeMS, internal.ErrorDetails,
			internalMeta,
		)
		if err != nil {
			return fmt.Errorf("insert internal record: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox (id, correlation_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`,
			uuid.New(), internal.CorrelationID, internal.EventType, outboxPayload, internal.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
		return nil
	})
}

// conditions accumulates WHERE clauses with positional parameters so filter
// composition stays in one place instead of scattered counter arithmetic.
type conditions struct {
	clauses []string
	args    []any
}

// add appends a clause; expr must contain one %d placeholder for the
// parameter index.
func (c *conditions) add(expr string, value any) {
	c.args = append(c.args, value)
	c.clauses = append(c.clauses, fmt.Sprintf(expr, len(c.args)))
}

// next reserves a parameter slot without a WHERE clause (LIMIT/OFFSET).
func (c *conditions) next(value any) int {
	c.args = append(c.args, value)
	return len(c.args)
}

func (c *conditions) where() string {
	out := ""
	for _, clause := range c.clauses {
		out += " AND " + clause
	}
	return out
}

func buildConditions(f audit.Filter) *conditions {
	c := &conditions{}
	if f.UserID != nil {
		c.add("user_id = $%d", *f.UserID)
	}
	if f.WorkloadID != nil {
		c.add("workload_id = $%d", *f.WorkloadID)
	}
	if f.EventType != "" {
		c.add("event_type = $%d", f.EventType)
	}
	if f.ProviderName != "" {
		c.add("provider_name = $%d", f.ProviderName)
	}
	if f.Start != nil {
		c.add("timestamp >= $%d", *f.Start)
	}
	if f.End != nil {
		c.add("timestamp <= $%d", *f.End)
	}
	return c
}

// QueryCustomer returns customer records matching the filter, newest first.
// The customer table has no provider column; that filter is ignored here.
func (s *Store) QueryCustomer(ctx context.Context, f audit.Filter) ([]audit.CustomerRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	f.ProviderName = ""
	c := buildConditions(f)
	query := fmt.Sprintf(`
		SELECT correlation_id, timestamp, user_id, workload_id,
		       event_type, phase, status, message, quality_metrics, metadata
		FROM customer_records
		WHERE true%s
		ORDER BY timestamp DESC, correlation_id
		LIMIT $%d OFFSET $%d
	`, c.where(), c.next(f.Limit), c.next(f.Offset))

	rows, err := s.db.QueryContext(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("query customer records: %w", err)
	}
	defer rows.Close()

	records := []audit.CustomerRecord{}
	for rows.Next() {
		record, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customer records: %w", err)
	}
	return records, nil
}

// QueryInternal returns internal records matching the filter, newest first.
func (s *Store) QueryInternal(ctx context.Context, f audit.Filter) ([]audit.InternalRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c := buildConditions(f)
	query := fmt.Sprintf(`
		SELECT correlation_id, timestamp, user_id, workload_id,
		       event_type, internal_cost, customer_charge, margin_percent,
		       provider_name, model_name, execution_time_ms, error_details, metadata
		FROM internal_records
		WHERE true%s
		ORDER BY timestamp DESC, correlation_id
		LIMIT $%d OFFSET $%d
	`, c.where(), c.next(f.Limit), c.next(f.Offset))

	rows, err := s.db.QueryContext(ctx, query, c.args...)
	if err != nil {
		return nil, fmt.Errorf("query internal records: %w", err)
	}
	defer rows.Close()

	records := []audit.InternalRecord{}
	for rows.Next() {
		record, err := scanInternal(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate internal records: %w", err)
	}
	return records, nil
}

// GetCustomer fetches one customer record by correlation id.
func (s *Store) GetCustomer(ctx context.Context, correlationID uuid.UUID) (*audit.CustomerRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, timestamp, user_id, workload_id,
		       event_type, phase, status, message, quality_metrics, metadata
		FROM customer_records
		WHERE correlation_id = $1
	`, correlationID)

	record, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	return record, err
}

// GetInternal fetches one internal record by correlation id.
func (s *Store) GetInternal(ctx context.Context, correlationID uuid.UUID) (*audit.InternalRecord, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT correlation_id, timestamp, user_id, workload_id,
		       event_type, internal_cost, customer_charge, margin_percent,
		       provider_name, model_name, execution_time_ms, error_details, metadata
		FROM internal_records
		WHERE correlation_id = $1
	`, correlationID)

	record, err := scanInternal(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	return record, err
}

func (s *Store) CountCustomer(ctx context.Context) (int, error) {
	return s.count(ctx, "customer_records")
}

func (s *Store) CountInternal(ctx context.Context) (int, error) {
	return s.count(ctx, "internal_records")
}

func (s *Store) count(ctx context.Context, table string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&total); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return total, nil
}

// OrphanedCustomerIDs returns correlation ids present in the customer stream
// with no internal partner.
func (s *Store) OrphanedCustomerIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.orphans(ctx, `
		SELECT c.correlation_id
		FROM customer_records c
		LEFT JOIN internal_records i ON i.correlation_id = c.correlation_id
		WHERE i.correlation_id IS NULL
	`)
}

// OrphanedInternalIDs returns correlation ids present in the internal stream
// with no customer partner. The foreign key makes these impossible through
// normal writes; the scan still runs as a compliance check.
func (s *Store) OrphanedInternalIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.orphans(ctx, `
		SELECT i.correlation_id
		FROM internal_records i
		LEFT JOIN customer_records c ON c.correlation_id = i.correlation_id
		WHERE c.correlation_id IS NULL
	`)
}

func (s *Store) orphans(ctx context.Context, query string) ([]uuid.UUID, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scan orphans: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan orphan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphans: %w", err)
	}
	return ids, nil
}

// InsertOrFetch records a signal once per (subjectKey, variantKey). The
// composite unique index arbitrates concurrent identical keys: losers of the
// insert race fetch the surviving row instead of erroring or duplicating.
func (s *Store) InsertOrFetch(ctx context.Context, subjectKey, variantKey string, payload map[string]any) (audit.Signal, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	encoded, err := marshalBag(payload)
	if err != nil {
		return audit.Signal{}, false, fmt.Errorf("encode signal payload: %w", err)
	}

	var (
		id        int64
		createdAt time.Time
	)
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO signals (subject_key, variant_key, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_key, variant_key) DO NOTHING
		RETURNING id, created_at
	`, subjectKey, variantKey, encoded).Scan(&id, &createdAt)

	if err == nil {
		return audit.Signal{
			ID:         id,
			SubjectKey: subjectKey,
			VariantKey: variantKey,
			Payload:    payload,
			CreatedAt:  createdAt,
		}, true, nil
	}
	if err != sql.ErrNoRows {
		return audit.Signal{}, false, fmt.Errorf("insert signal: %w", err)
	}

	// Conflict: the row already exists, return it unchanged.
	var existingPayload []byte
	signal := audit.Signal{SubjectKey: subjectKey, VariantKey: variantKey}
	err = s.db.QueryRowContext(ctx, `
		SELECT id, payload, created_at
		FROM signals
		WHERE subject_key = $1 AND variant_key = $2
	`, subjectKey, variantKey).Scan(&signal.ID, &existingPayload, &signal.CreatedAt)
	if err != nil {
		return audit.Signal{}, false, fmt.Errorf("fetch existing signal: %w", err)
	}
	if err := unmarshalBag(existingPayload, &signal.Payload); err != nil {
		return audit.Signal{}, false, err
	}
	return signal, false, nil
}

// NextUnpublished returns up to limit outbox entries awaiting publication,
// oldest first.
func (s *Store) NextUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, correlation_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []audit.OutboxEntry
	for rows.Next() {
		var entry audit.OutboxEntry
		if err := rows.Scan(&entry.ID, &entry.CorrelationID, &entry.EventType, &entry.Payload, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps outbox entries as delivered.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET published_at = NOW()
		WHERE id = ANY($1::uuid[])
	`, pq.Array(raw))
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row rowScanner) (*audit.CustomerRecord, error) {
	var (
		record     audit.CustomerRecord
		quality    []byte
		metadata   []byte
		userID     sql.NullInt64
		workloadID sql.NullInt64
	)
	err := row.Scan(
		&record.CorrelationID, &record.Timestamp, &userID, &workloadID,
		&record.EventType, &record.Phase, &record.Status, &record.Message,
		&quality, &metadata,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan customer record: %w", err)
	}
	record.UserID = nullableInt(userID)
	record.WorkloadID = nullableInt(workloadID)
	if err := unmarshalBag(quality, &record.QualityMetrics); err != nil {
		return nil, err
	}
	if err := unmarshalBag(metadata, &record.Metadata); err != nil {
		return nil, err
	}
	return &record, nil
}

func scanInternal(row rowScanner) (*audit.InternalRecord, error) {
	var (
		record     audit.InternalRecord
		metadata   []byte
		userID     sql.NullInt64
		workloadID sql.NullInt64
		cost       sql.NullFloat64
		charge     sql.NullFloat64
		margin     sql.NullFloat64
		execMS     sql.NullInt64
	)
	err := row.Scan(
		&record.CorrelationID, &record.Timestamp, &userID, &workloadID,
		&record.EventType, &cost, &charge, &margin,
		&record.ProviderName, &record.ModelName, &execMS, &record.ErrorDetails,
		&metadata,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan internal record: %w", err)
	}
	record.UserID = nullableInt(userID)
	record.WorkloadID = nullableInt(workloadID)
	record.InternalCost = nullableFloat(cost)
	record.CustomerCharge = nullableFloat(charge)
	record.MarginPercent = nullableFloat(margin)
	record.ExecutionTimeMS = nullableInt(execMS)
	if err := unmarshalBag(metadata, &record.Metadata); err != nil {
		return nil, err
	}
	return &record, nil
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func marshalBag(bag map[string]any) ([]byte, error) {
	if bag == nil {
		return nil, nil
	}
	return json.Marshal(bag)
}

func unmarshalBag(raw []byte, out *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode json bag: %w", err)
	}
	return nil
}
