package scheduler

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketmode/internal/domain"
	"github.com/sawpanic/marketmode/internal/storage"
)

const configFileName = "scheduler.json"

// Cadence bounds. Setters reject values outside them rather than clamping.
const (
	MinCollectionPeriodSec = 900
	MaxCollectionPeriodSec = 86400
	MinPublishPeriodHours  = 1
	MaxPublishPeriodHours  = 96
	MinJitterSec           = 1
	MaxJitterSec           = 3
)

// Config is the persisted scheduler document: cadence settings plus the
// per-symbol last-run bookkeeping that makes due checks survive restarts.
type Config struct {
	Running             bool                 `json:"running"`
	CollectionPeriodSec int                  `json:"collection_period_seconds"`
	PublishPeriodHours  int                  `json:"publish_period_hours"`
	JitterSec           int                  `json:"jitter_seconds"`
	LastCollectUTC      map[string]time.Time `json:"last_collect_utc"`
	LastPublishUTC      map[string]time.Time `json:"last_publish_utc"`
}

// DefaultConfig returns the out-of-the-box cadence: collect every 15 minutes,
// publish daily, scheduler running.
func DefaultConfig() Config {
	return Config{
		Running:             true,
		CollectionPeriodSec: MinCollectionPeriodSec,
		PublishPeriodHours:  24,
		JitterSec:           2,
		LastCollectUTC:      map[string]time.Time{},
		LastPublishUTC:      map[string]time.Time{},
	}
}

// CollectionPeriod returns the collection cadence as a duration.
func (c Config) CollectionPeriod() time.Duration {
	return time.Duration(c.CollectionPeriodSec) * time.Second
}

// PublishPeriod returns the publish cadence as a duration.
func (c Config) PublishPeriod() time.Duration {
	return time.Duration(c.PublishPeriodHours) * time.Hour
}

// ConfigStore is the file-backed scheduler configuration. Every mutation
// persists atomically before returning so a restart resumes from the same
// cadence and bookkeeping.
type ConfigStore struct {
	path string
	mu   sync.Mutex
	cfg  Config
}

// NewConfigStore loads the persisted document, falling back to defaults when
// none exists. A corrupt document is replaced by defaults with a warning
// rather than blocking startup.
func NewConfigStore(dir string) (*ConfigStore, error) {
	s := &ConfigStore{path: filepath.Join(dir, configFileName)}

	var cfg Config
	err := storage.ReadJSON(s.path, &cfg)
	switch {
	case err == nil:
		if cfg.LastCollectUTC == nil {
			cfg.LastCollectUTC = map[string]time.Time{}
		}
		if cfg.LastPublishUTC == nil {
			cfg.LastPublishUTC = map[string]time.Time{}
		}
		s.cfg = cfg
	case errors.Is(err, domain.ErrNotFound):
		s.cfg = DefaultConfig()
	case errors.Is(err, domain.ErrStorageCorrupt):
		log.Warn().Err(err).Str("path", s.path).Msg("scheduler config unreadable, resetting to defaults")
		s.cfg = DefaultConfig()
	default:
		return nil, err
	}
	return s, nil
}

// Get returns a copy of the current configuration.
func (s *ConfigStore) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *ConfigStore) snapshot() Config {
	cfg := s.cfg
	cfg.LastCollectUTC = make(map[string]time.Time, len(s.cfg.LastCollectUTC))
	for k, v := range s.cfg.LastCollectUTC {
		cfg.LastCollectUTC[k] = v
	}
	cfg.LastPublishUTC = make(map[string]time.Time, len(s.cfg.LastPublishUTC))
	for k, v := range s.cfg.LastPublishUTC {
		cfg.LastPublishUTC[k] = v
	}
	return cfg
}

func (s *ConfigStore) persist() error {
	return storage.WriteJSONAtomic(s.path, s.cfg)
}

// SetRunning starts or stops the loop. The change takes effect on the next
// poll tick; an in-flight cycle is never interrupted.
func (s *ConfigStore) SetRunning(running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Running = running
	if err := s.persist(); err != nil {
		return err
	}
	log.Info().Bool("running", running).Msg("scheduler state changed")
	return nil
}

// SetCollectionPeriodSec updates the collection cadence. Out-of-bounds values
// are rejected with domain.ErrOutOfRange and leave the stored value unchanged.
func (s *ConfigStore) SetCollectionPeriodSec(seconds int) error {
	if seconds < MinCollectionPeriodSec || seconds > MaxCollectionPeriodSec {
		return fmt.Errorf("collection period %ds outside [%d,%d]: %w",
			seconds, MinCollectionPeriodSec, MaxCollectionPeriodSec, domain.ErrOutOfRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.CollectionPeriodSec = seconds
	return s.persist()
}

// SetPublishPeriodHours updates the publish cadence.
func (s *ConfigStore) SetPublishPeriodHours(hours int) error {
	if hours < MinPublishPeriodHours || hours > MaxPublishPeriodHours {
		return fmt.Errorf("publish period %dh outside [%d,%d]: %w",
			hours, MinPublishPeriodHours, MaxPublishPeriodHours, domain.ErrOutOfRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.PublishPeriodHours = hours
	return s.persist()
}

// SetJitterSec updates the per-symbol stagger bound.
func (s *ConfigStore) SetJitterSec(seconds int) error {
	if seconds < MinJitterSec || seconds > MaxJitterSec {
		return fmt.Errorf("jitter %ds outside [%d,%d]: %w",
			seconds, MinJitterSec, MaxJitterSec, domain.ErrOutOfRange)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.JitterSec = seconds
	return s.persist()
}

// MarkCollected records a completed collection cycle for a symbol.
func (s *ConfigStore) MarkCollected(symbol string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.LastCollectUTC[symbol] = at.UTC()
	return s.persist()
}

// MarkPublished records a completed voting pass for a symbol.
func (s *ConfigStore) MarkPublished(symbol string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.LastPublishUTC[symbol] = at.UTC()
	return s.persist()
}

// Forget drops the bookkeeping for a symbol that left the registry.
func (s *ConfigStore) Forget(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cfg.LastCollectUTC, symbol)
	delete(s.cfg.LastPublishUTC, symbol)
	return s.persist()
}
