package circuitbreaker

import (
	"sync"

	"webhook-delivery/internal/common/logging"
)

// Manager lazily creates and caches one breaker per key. The delivery path
// keys breakers by target host so one flapping endpoint cannot open the
// breaker for every subscription.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
	logger   logging.Logger
}

// NewManager creates a Manager whose breakers all share the given config.
func NewManager(config Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns the breaker for the given key, creating it on first use.
func (m *Manager) Get(key string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[key]; ok {
		return b
	}
	b = New(key, m.config, m.logger)
	m.breakers[key] = b
	return b
}

// Stats returns a snapshot of every known breaker.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Stats, 0, len(m.breakers))
	for _, b := range m.breakers {
		out = append(out, b.Stats())
	}
	return out
}
