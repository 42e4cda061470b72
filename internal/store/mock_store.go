// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	principals map[string]*PrincipalRecord // keyed by principal ID
	usage      map[string]*UsageRecord     // keyed by "period:principalID"
	budget     *int64
	audit      []AuditEntry

	// Err, when set, is returned by every method.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		principals: make(map[string]*PrincipalRecord),
		usage:      make(map[string]*UsageRecord),
	}
}

func (m *MockStore) UpsertPrincipal(_ context.Context, p *PrincipalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if p.ID == "" {
		return fmt.Errorf("principal id is required")
	}

	now := time.Now().UTC()
	cp := *p
	if cp.LastSeen.IsZero() {
		cp.LastSeen = now
	}
	if existing, ok := m.principals[p.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	m.principals[p.ID] = &cp
	return nil
}

func (m *MockStore) GetPrincipal(_ context.Context, id string) (*PrincipalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockStore) ListPrincipals(_ context.Context) ([]*PrincipalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]*PrincipalRecord, 0, len(m.principals))
	for _, p := range m.principals {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) CountPrincipals(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return len(m.principals), nil
}

func (m *MockStore) AddUsage(_ context.Context, principalID, period string, units int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	if units < 0 {
		return 0, ErrNegativeUsage
	}

	key := period + ":" + principalID
	r, ok := m.usage[key]
	if !ok {
		r = &UsageRecord{PrincipalID: principalID, Period: period}
		m.usage[key] = r
	}
	r.Units += units
	r.UpdatedAt = time.Now().UTC()
	return r.Units, nil
}

func (m *MockStore) PeriodUsage(_ context.Context, principalID, period string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return 0, m.Err
	}
	if r, ok := m.usage[period+":"+principalID]; ok {
		return r.Units, nil
	}
	return 0, nil
}

func (m *MockStore) ListPeriodUsage(_ context.Context, period string) ([]UsageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := []UsageRecord{}
	for _, r := range m.usage {
		if r.Period == period {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Units != out[j].Units {
			return out[i].Units > out[j].Units
		}
		return out[i].PrincipalID < out[j].PrincipalID
	})
	return out, nil
}

func (m *MockStore) MonthlyUnitBudget(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return 0, m.Err
	}
	if m.budget == nil {
		return 0, ErrNotFound
	}
	return *m.budget, nil
}

func (m *MockStore) SetMonthlyUnitBudget(_ context.Context, units int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.budget = &units
	return nil
}

func (m *MockStore) SeedMonthlyUnitBudget(_ context.Context, units int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if m.budget == nil {
		m.budget = &units
	}
	return nil
}

func (m *MockStore) AppendAuditLog(_ context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	m.audit = append(m.audit, *e)
	return nil
}

func (m *MockStore) ListAuditLog(_ context.Context, f AuditFilter) ([]AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	limit := normalizeAuditLimit(f.Limit)
	out := []AuditEntry{}
	for i := len(m.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.audit[i]
		if f.ActorPrincipalID != nil && e.ActorPrincipalID != *f.ActorPrincipalID {
			continue
		}
		if f.Action != nil && e.Action != *f.Action {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MockStore) Close() error {
	return nil
}
