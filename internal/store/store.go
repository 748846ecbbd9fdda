package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sawpanic/marketmode/internal/domain"
	"github.com/sawpanic/marketmode/internal/storage"
)

// Document is the authoritative per-symbol state consumed by reporting.
// The recorder owns the indicator/signal fields, the voter owns Decision;
// user-facing commands only ever read it.
type Document struct {
	Symbol     string                              `json:"symbol"`
	Bias       domain.Bias                         `json:"bias"`
	Indicators map[string]domain.IndicatorSnapshot `json:"indicators,omitempty"` // per timeframe
	Signals    map[string]domain.Direction         `json:"signals,omitempty"`    // latest classification per timeframe
	Decision   *domain.Decision                    `json:"decision,omitempty"`
	UpdatedAt  time.Time                           `json:"updated_at"`
}

// Mode returns the last voted mode, or NO_CONSENSUS before the first vote.
func (d *Document) Mode() domain.Mode {
	if d == nil || d.Decision == nil {
		return domain.ModeNoConsensus
	}
	return d.Decision.Mode
}

// Store persists one JSON document per symbol with atomic replace semantics.
// Updates to the same symbol are serialized; different symbols do not block
// each other.
type Store struct {
	dir   string
	now   func() time.Time
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(dir string) *Store {
	return &Store{dir: dir, now: time.Now, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_state.json", symbol))
}

func (s *Store) lockFor(symbol string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[symbol] = lock
	}
	return lock
}

// Read loads the state document for a symbol. A symbol that was never
// initialized yields domain.ErrNotFound, never an empty document.
func (s *Store) Read(symbol string) (*Document, error) {
	var doc Document
	if err := storage.ReadJSON(s.path(symbol), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Update performs a read-modify-write under the per-symbol lock. The mutator
// receives the current document, or a fresh one if the symbol has no state
// yet. The new content is written atomically before Update returns.
func (s *Store) Update(symbol string, mutate func(*Document) error) (*Document, error) {
	lock := s.lockFor(symbol)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.Read(symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		doc = &Document{Symbol: symbol}
	}

	if err := mutate(doc); err != nil {
		return nil, err
	}
	doc.Symbol = symbol
	doc.UpdatedAt = s.now().UTC()

	if err := storage.WriteJSONAtomic(s.path(symbol), doc); err != nil {
		return nil, err
	}
	return doc, nil
}
