// Package memory provides an in-memory store for unit tests and local
// development. Mirrors the PostgreSQL store's semantics, including newest-first
// ordering and insert-or-fetch signal idempotency.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chronicle/internal/audit"
	"chronicle/pkg/platform/sentinel"
)

type signalKey struct {
	subject string
	variant string
}

type outboxRow struct {
	entry     audit.OutboxEntry
	published bool
}

// Store holds both record streams, signals, and the outbox under one mutex.
type Store struct {
	mu       sync.RWMutex
	customer []audit.CustomerRecord
	internal []audit.InternalRecord
	signals  map[signalKey]audit.Signal
	nextID   int64
	outbox   []outboxRow
}

func New() *Store {
	return &Store{signals: make(map[signalKey]audit.Signal)}
}

// InsertPair appends to both streams and the outbox. All three or nothing,
// same as the SQL transaction.
func (s *Store) InsertPair(ctx context.Context, customer audit.CustomerRecord, internal audit.InternalRecord, outboxPayload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.customer = append(s.customer, customer)
	s.internal = append(s.internal, internal)
	s.outbox = append(s.outbox, outboxRow{entry: audit.OutboxEntry{
		ID:            uuid.New(),
		CorrelationID: internal.CorrelationID,
		EventType:     internal.EventType,
		Payload:       outboxPayload,
		CreatedAt:     internal.Timestamp,
	}})
	return nil
}

// SeedCustomer inserts a customer record without its internal partner.
// Test helper for orphan scenarios; production writes always use InsertPair.
func (s *Store) SeedCustomer(record audit.CustomerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customer = append(s.customer, record)
}

// SeedInternal inserts an internal record without its customer partner.
func (s *Store) SeedInternal(record audit.InternalRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.internal = append(s.internal, record)
}

func (s *Store) QueryCustomer(ctx context.Context, f audit.Filter) ([]audit.CustomerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []audit.CustomerRecord
	for _, r := range s.customer {
		if matchesCustomer(r, f) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return page(matched, f), nil
}

func (s *Store) QueryInternal(ctx context.Context, f audit.Filter) ([]audit.InternalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []audit.InternalRecord
	for _, r := range s.internal {
		if matchesInternal(r, f) {
			matched = append(matched, r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return page(matched, f), nil
}

func (s *Store) GetCustomer(ctx context.Context, correlationID uuid.UUID) (*audit.CustomerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.customer {
		if r.CorrelationID == correlationID {
			record := r
			return &record, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) GetInternal(ctx context.Context, correlationID uuid.UUID) (*audit.InternalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.internal {
		if r.CorrelationID == correlationID {
			record := r
			return &record, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) CountCustomer(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.customer), nil
}

func (s *Store) CountInternal(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.internal), nil
}

func (s *Store) OrphanedCustomerIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	internalIDs := make(map[uuid.UUID]struct{}, len(s.internal))
	for _, r := range s.internal {
		internalIDs[r.CorrelationID] = struct{}{}
	}
	var orphans []uuid.UUID
	for _, r := range s.customer {
		if _, ok := internalIDs[r.CorrelationID]; !ok {
			orphans = append(orphans, r.CorrelationID)
		}
	}
	return orphans, nil
}

func (s *Store) OrphanedInternalIDs(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customerIDs := make(map[uuid.UUID]struct{}, len(s.customer))
	for _, r := range s.customer {
		customerIDs[r.CorrelationID] = struct{}{}
	}
	var orphans []uuid.UUID
	for _, r := range s.internal {
		if _, ok := customerIDs[r.CorrelationID]; !ok {
			orphans = append(orphans, r.CorrelationID)
		}
	}
	return orphans, nil
}

// InsertOrFetch records a signal once per composite key. The existing row
// wins on retry; its id and timestamp come back unchanged.
func (s *Store) InsertOrFetch(ctx context.Context, subjectKey, variantKey string, payload map[string]any) (audit.Signal, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := signalKey{subject: subjectKey, variant: variantKey}
	if existing, ok := s.signals[key]; ok {
		return existing, false, nil
	}

	s.nextID++
	signal := audit.Signal{
		ID:         s.nextID,
		SubjectKey: subjectKey,
		VariantKey: variantKey,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
	s.signals[key] = signal
	return signal, true, nil
}

// NextUnpublished returns up to limit outbox entries awaiting publication,
// oldest first.
func (s *Store) NextUnpublished(ctx context.Context, limit int) ([]audit.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []audit.OutboxEntry
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		entries = append(entries, row.entry)
		if len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// MarkPublished flags outbox entries as delivered.
func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for i := range s.outbox {
		if _, ok := idSet[s.outbox[i].entry.ID]; ok {
			s.outbox[i].published = true
		}
	}
	return nil
}

func matchesCustomer(r audit.CustomerRecord, f audit.Filter) bool {
	return matches(r.UserID, r.WorkloadID, r.EventType, "", r.Timestamp, f)
}

func matchesInternal(r audit.InternalRecord, f audit.Filter) bool {
	return matches(r.UserID, r.WorkloadID, r.EventType, r.ProviderName, r.Timestamp, f)
}

func matches(userID, workloadID *int64, eventType, providerName string, ts time.Time, f audit.Filter) bool {
	if f.UserID != nil && (userID == nil || *userID != *f.UserID) {
		return false
	}
	if f.WorkloadID != nil && (workloadID == nil || *workloadID != *f.WorkloadID) {
		return false
	}
	if f.EventType != "" && eventType != f.EventType {
		return false
	}
	if f.ProviderName != "" && providerName != f.ProviderName {
		return false
	}
	if f.Start != nil && ts.Before(*f.Start) {
		return false
	}
	if f.End != nil && ts.After(*f.End) {
		return false
	}
	return true
}

func page[T any](records []T, f audit.Filter) []T {
	if f.Offset >= len(records) {
		return []T{}
	}
	end := f.Offset + f.Limit
	if end > len(records) {
		end = len(records)
	}
	return records[f.Offset:end]
}
