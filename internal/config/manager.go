package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	logx "mintwatch/pkg/logx"
)

// ConfigManager owns the active Config. Reloads that parse, validate and
// differ from the active version are committed and fanned out to subscribers.
type ConfigManager struct {
	path   string
	getenv func(string) string
	log    logx.Logger

	mu      sync.RWMutex
	active  *Config
	version uint64 // fnv64a of the committed config

	feed     fanout
	debounce time.Duration
}

// NewConfigManager reads path (JSON, or YAML by extension). An empty path
// means defaults plus environment only.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{
		path:     path,
		getenv:   os.Getenv,
		log:      logx.Nop(),
		debounce: 250 * time.Millisecond,
	}
}

func (m *ConfigManager) SetLogger(log logx.Logger) {
	if log.IsZero() {
		log = logx.Nop()
	}
	m.log = log
}

// Path returns the watched file ("" when running from env only).
func (m *ConfigManager) Path() string { return m.path }

// Parse builds a validated config without committing it.
// Order: defaults, file, derived defaults, environment, validation.
func (m *ConfigManager) Parse() (*Config, error) {
	cfg := Defaults()
	if m.path != "" {
		raw, err := os.ReadFile(m.path)
		if err != nil {
			return nil, err
		}
		if err := decodeStrict(m.path, raw, cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	if err := applyEnv(cfg, m.getenv); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeStrict rejects unknown keys and anything after the top-level object.
func decodeStrict(path string, raw []byte, into *Config) error {
	doc, err := toJSON(path, raw)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(doc)) == 0 {
		return nil
	}
	name := filepath.Base(path)
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if dec.Decode(&json.RawMessage{}) != io.EOF {
		return fmt.Errorf("%s: trailing data after config object", name)
	}
	return nil
}

// Load parses and commits.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.swap(cfg, fingerprintConfig(cfg))
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *ConfigManager) swap(cfg *Config, version uint64) {
	m.mu.Lock()
	m.active, m.version = cfg, version
	m.mu.Unlock()
}

// Subscribe returns a channel receiving every committed reload.
func (m *ConfigManager) Subscribe(buffer int) chan *Config { return m.feed.add(buffer) }

// Unsubscribe detaches and closes ch.
func (m *ConfigManager) Unsubscribe(ch chan *Config) { m.feed.remove(ch) }

// reload commits the file when it parses, validates and actually changed.
func (m *ConfigManager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	next := fingerprintConfig(cfg)
	m.mu.RLock()
	unchanged := next != 0 && next == m.version
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config file touched without changes", logx.String("path", m.path))
		return
	}
	m.swap(cfg, next)
	m.feed.send(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path), logx.Uint64("version", next))
}

// fingerprintConfig returns 0 when cfg cannot be encoded, which never
// matches and so always counts as a change.
func fingerprintConfig(cfg *Config) uint64 {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(doc)
	return h.Sum64()
}

// fanout delivers config versions to subscribers. Each channel holds the
// newest pending versions; a full channel loses its oldest entry.
type fanout struct {
	mu  sync.Mutex
	chs []chan *Config
}

func (f *fanout) add(buffer int) chan *Config {
	ch := make(chan *Config, max(1, buffer))
	f.mu.Lock()
	f.chs = append(f.chs, ch)
	f.mu.Unlock()
	return ch
}

func (f *fanout) remove(ch chan *Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.chs {
		if f.chs[i] != ch {
			continue
		}
		f.chs = append(f.chs[:i], f.chs[i+1:]...)
		close(ch)
		return
	}
}

func (f *fanout) send(cfg *Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.chs {
		offerLatest(ch, cfg)
	}
}

// offerLatest enqueues cfg, dropping the oldest pending versions to make room.
// Callers hold the fanout lock, so nothing else fills ch meanwhile.
func offerLatest(ch chan *Config, cfg *Config) {
	for {
		select {
		case ch <- cfg:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

var errWatcherClosed = errors.New("watcher closed")
