package registry

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketmode/internal/domain"
	"github.com/sawpanic/marketmode/internal/storage"
)

const fileName = "symbols.json"

// Entry is one tracked trading pair with its per-symbol configuration.
type Entry struct {
	Symbol  string      `json:"symbol"`
	Bias    domain.Bias `json:"bias"`
	Enabled bool        `json:"enabled"`
}

// RemoveResult reports per-symbol outcomes of a batch removal. An unknown
// symbol does not abort removal of the others.
type RemoveResult struct {
	Removed []string `json:"removed"`
	Missing []string `json:"missing"`
}

// Registry is the file-backed ordered set of tracked symbols. Every mutation
// persists the full document atomically before returning.
type Registry struct {
	path string
	mu   sync.Mutex
}

func New(dir string) *Registry {
	return &Registry{path: filepath.Join(dir, fileName)}
}

// Normalize upper-cases and trims a symbol identifier.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (r *Registry) load() ([]Entry, error) {
	var entries []Entry
	err := storage.ReadJSON(r.path, &entries)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil // registry not created yet
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Registry) persist(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	return storage.WriteJSONAtomic(r.path, entries)
}

// Add registers symbols with default configuration (bias LONG, enabled).
// Re-adding an existing symbol is a no-op for that symbol and does not error
// the batch. Returns the symbols actually added, in input order.
func (r *Registry) Add(symbols []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(entries))
	for _, e := range entries {
		known[e.Symbol] = true
	}

	var added []string
	for _, raw := range symbols {
		sym := Normalize(raw)
		if sym == "" || known[sym] {
			continue
		}
		entries = append(entries, Entry{Symbol: sym, Bias: domain.BiasLong, Enabled: true})
		known[sym] = true
		added = append(added, sym)
	}

	if len(added) == 0 {
		return nil, nil
	}
	if err := r.persist(entries); err != nil {
		return nil, err
	}
	log.Info().Strs("symbols", added).Msg("symbols added to registry")
	return added, nil
}

// Remove deletes symbols from the registry, reporting unknown ones without
// aborting the batch.
func (r *Registry) Remove(symbols []string) (RemoveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res RemoveResult
	entries, err := r.load()
	if err != nil {
		return res, err
	}

	drop := make(map[string]bool, len(symbols))
	for _, raw := range symbols {
		drop[Normalize(raw)] = true
	}

	kept := entries[:0]
	removed := make(map[string]bool)
	for _, e := range entries {
		if drop[e.Symbol] {
			removed[e.Symbol] = true
			continue
		}
		kept = append(kept, e)
	}

	for _, raw := range symbols {
		sym := Normalize(raw)
		if removed[sym] {
			res.Removed = append(res.Removed, sym)
		} else {
			res.Missing = append(res.Missing, sym)
		}
	}

	if len(res.Removed) > 0 {
		if err := r.persist(kept); err != nil {
			return RemoveResult{}, err
		}
		log.Info().Strs("symbols", res.Removed).Msg("symbols removed from registry")
	}
	return res, nil
}

// List returns all entries in insertion order.
func (r *Registry) List() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Get returns the entry for one symbol or domain.ErrNotFound.
func (r *Registry) Get(symbol string) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return Entry{}, err
	}
	sym := Normalize(symbol)
	for _, e := range entries {
		if e.Symbol == sym {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%s: %w", sym, domain.ErrNotFound)
}

// SetBias updates a symbol's bias. Invalid values are rejected with
// domain.ErrInvalidBias and leave stored state unchanged.
func (r *Registry) SetBias(symbol string, bias domain.Bias) error {
	if bias != domain.BiasLong && bias != domain.BiasShort {
		return domain.ErrInvalidBias
	}
	return r.mutate(symbol, func(e *Entry) { e.Bias = bias })
}

// SetEnabled toggles scheduler participation for a symbol.
func (r *Registry) SetEnabled(symbol string, enabled bool) error {
	return r.mutate(symbol, func(e *Entry) { e.Enabled = enabled })
}

func (r *Registry) mutate(symbol string, fn func(*Entry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return err
	}
	sym := Normalize(symbol)
	for i := range entries {
		if entries[i].Symbol == sym {
			fn(&entries[i])
			return r.persist(entries)
		}
	}
	return fmt.Errorf("%s: %w", sym, domain.ErrNotFound)
}
