package portfolio

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"portfoliotracker/internal/quote"
)

// Store is the authoritative set of holdings. Holdings can only be added
// or removed; writes are serialized and List returns copies.
type Store struct {
	mu       sync.RWMutex
	holdings []Holding
	currency string
	now      func() time.Time
	newID    func() uuid.UUID
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCurrency sets the home currency stamped on new holdings.
func WithCurrency(cur string) StoreOption {
	return func(s *Store) {
		if cur != "" {
			s.currency = cur
		}
	}
}

// WithClock overrides the clock used for CreatedAt and default dates.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides holding id generation.
func WithIDGenerator(gen func() uuid.UUID) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// NewStore returns an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		currency: DefaultCurrency,
		now:      time.Now,
		newID:    uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add validates n and appends it with a fresh id. An invalid submission
// returns an error wrapping ErrInvalidHolding and leaves the store as is.
func (s *Store) Add(n NewHolding) (Holding, error) {
	if err := n.Validate(); err != nil {
		return Holding{}, err
	}
	now := s.now()
	date := n.PurchaseDate
	if date.IsZero() {
		date = Day(now)
	}
	h := Holding{
		ID:             s.newID(),
		Symbol:         quote.NormalizeSymbol(n.Symbol),
		Name:           n.Name,
		Exchange:       n.Exchange,
		Shares:         n.Shares,
		ExecutionPrice: n.ExecutionPrice,
		PurchaseDate:   date,
		Currency:       s.currency,
		CreatedAt:      now.UTC(),
	}
	if h.Name == "" {
		h.Name = h.Symbol
	}

	s.mu.Lock()
	s.holdings = append(s.holdings, h)
	s.mu.Unlock()
	return h, nil
}

// Remove deletes the holding with id. It reports whether one was removed;
// an unknown id is a no-op.
func (s *Store) Remove(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.holdings, func(h Holding) bool { return h.ID == id })
	if i < 0 {
		return false
	}
	s.holdings = slices.Delete(s.holdings, i, i+1)
	return true
}

// Get returns the holding with id.
func (s *Store) Get(id uuid.UUID) (Holding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, h := range s.holdings {
		if h.ID == id {
			return h, true
		}
	}
	return Holding{}, false
}

// List returns the holdings in insertion order.
func (s *Store) List() []Holding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.holdings)
}

// Len returns the number of holdings.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.holdings)
}

// Symbols returns the de-duplicated symbols across all holdings, sorted.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{}, len(s.holdings))
	for _, h := range s.holdings {
		set[h.Symbol] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

// Currency returns the store's home currency.
func (s *Store) Currency() string { return s.currency }
