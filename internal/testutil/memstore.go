package testutil

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/lampstand/entitlements/internal/model"
)

// ErrNotFound is returned by MemoryStore.GetEntitlement for unknown users.
var ErrNotFound = errors.New("entitlement not found")

// MemoryStore is an in-memory entitlement store with the same semantics as
// the Postgres repository. Each method holds one lock, which stands in for
// the row lock of the conditional UPDATE.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*model.Entitlement
	usage   []*model.CreditUsage

	// Err, when set, is returned by every write.
	Err error
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*model.Entitlement)}
}

// Put stores a copy of e, replacing any existing record.
func (m *MemoryStore) Put(e *model.Entitlement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.records[e.UserID] = &cp
}

// Record returns a copy of the stored record, or nil.
func (m *MemoryStore) Record(userID string) *model.Entitlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.records[userID]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// UsageCount returns how many usage rows were recorded.
func (m *MemoryStore) UsageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.usage)
}

func (m *MemoryStore) ensure(userID string, today time.Time, allowance int) *model.Entitlement {
	e, ok := m.records[userID]
	if !ok {
		now := time.Now().UTC()
		e = &model.Entitlement{
			UserID:         userID,
			DailyCredits:   allowance,
			CreditsResetOn: today,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		m.records[userID] = e
	}
	return e
}

func (m *MemoryStore) EnsureEntitlement(_ context.Context, userID string, today time.Time, allowance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.ensure(userID, today, allowance)
	return nil
}

func (m *MemoryStore) GetEntitlement(_ context.Context, userID string) (*model.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) ConsumeCredit(_ context.Context, userID string, today time.Time, allowance int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, false, m.Err
	}
	e, ok := m.records[userID]
	if !ok || e.IsPaid {
		return 0, false, nil
	}

	newDay := e.CreditsResetOn.Before(today)
	if !newDay && e.DailyCredits <= 0 {
		return 0, false, nil
	}
	if newDay {
		e.DailyCredits = allowance
	}
	e.DailyCredits--
	e.CreditsResetOn = today
	e.UpdatedAt = time.Now().UTC()
	return e.DailyCredits, true, nil
}

func (m *MemoryStore) ApplyTarget(_ context.Context, userID string, target model.Target, today time.Time, allowance int) (*model.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	e := m.ensure(userID, today, allowance)
	e.IsPaid = target.IsPaid
	e.PaymentActive = target.PaymentActive
	if target.SubscriptionID != "" {
		e.SubscriptionID = target.SubscriptionID
	}
	e.UpdatedAt = time.Now().UTC()
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) AcknowledgeOnboarding(_ context.Context, userID string, today time.Time, allowance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.ensure(userID, today, allowance).IgnoreCreditPhase1 = true
	return nil
}

func (m *MemoryStore) ResetDailyCredits(_ context.Context, today time.Time, allowance int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for _, e := range m.records {
		if !e.IsPaid && e.CreditsResetOn.Before(today) {
			e.DailyCredits = allowance
			e.CreditsResetOn = today
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) InsertCreditUsage(_ context.Context, usage *model.CreditUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	cp := *usage
	m.usage = append(m.usage, &cp)
	return nil
}

func (m *MemoryStore) ListCreditUsage(_ context.Context, userID string, limit int) ([]*model.CreditUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*model.CreditUsage
	for _, u := range slices.Backward(m.usage) {
		if u.UserID == userID {
			out = append(out, u)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
