package samplelog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketmode/internal/domain"
	"github.com/sawpanic/marketmode/internal/storage"
)

// Log is the append-only store of classification samples, one JSONL file per
// symbol+pair. Appends to the same file are serialized; different symbols
// append independently.
type Log struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(dir string) *Log {
	return &Log{dir: dir, locks: make(map[string]*sync.Mutex)}
}

func (l *Log) path(symbol string, pair domain.FramePair) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s_raw_%s.jsonl", symbol, pair))
}

func (l *Log) lockFor(symbol string, pair domain.FramePair) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := symbol + string(pair)
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// Append writes one sample as a single line at the end of the symbol+pair
// log. Prior entries are never touched.
func (l *Log) Append(sample domain.Sample) error {
	lock := l.lockFor(sample.Symbol, sample.Pair)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	line, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	f, err := os.OpenFile(l.path(sample.Symbol, sample.Pair), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open sample log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append sample: %w", err)
	}
	return nil
}

// ReadWindow returns all samples for symbol+pair with timestamp >= from, in
// append order. A missing log yields an empty slice; malformed lines are
// skipped rather than failing the read.
func (l *Log) ReadWindow(symbol string, pair domain.FramePair, from time.Time) ([]domain.Sample, error) {
	data, err := os.ReadFile(l.path(symbol, pair))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sample log: %w", err)
	}

	var samples []domain.Sample
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var s domain.Sample
		if err := json.Unmarshal(line, &s); err != nil {
			log.Warn().Str("symbol", symbol).Str("pair", string(pair)).Msg("skipping malformed sample line")
			continue
		}
		if s.Timestamp.Before(from) {
			continue
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sample log: %w", err)
	}
	return samples, nil
}

// Trim is the explicit retention operation: it rewrites the symbol+pair log
// atomically, keeping only samples with timestamp >= keepAfter. Returns the
// number of samples dropped. Never invoked automatically.
func (l *Log) Trim(symbol string, pair domain.FramePair, keepAfter time.Time) (int, error) {
	lock := l.lockFor(symbol, pair)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(l.path(symbol, pair))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read sample log: %w", err)
	}

	var kept bytes.Buffer
	dropped := 0
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var s domain.Sample
		if err := json.Unmarshal(line, &s); err != nil || s.Timestamp.Before(keepAfter) {
			dropped++
			continue
		}
		kept.Write(line)
		kept.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan sample log: %w", err)
	}

	if dropped == 0 {
		return 0, nil
	}
	if err := storage.WriteFileAtomic(l.path(symbol, pair), kept.Bytes()); err != nil {
		return 0, err
	}
	log.Info().Str("symbol", symbol).Str("pair", string(pair)).Int("dropped", dropped).Msg("sample log trimmed")
	return dropped, nil
}
