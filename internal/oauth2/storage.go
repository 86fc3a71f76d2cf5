package oauth2

import (
	"context"
	"sync"
)

// TokenStorage persists one cache entry per authentication config.
// Implementations exist for memory (single instance, tests) and Redis
// (shared across instances).
type TokenStorage interface {
	// SaveToken overwrites the entry for the config.
	SaveToken(ctx context.Context, configID string, token *Token) error
	// LoadToken returns the entry, or nil without error when absent.
	LoadToken(ctx context.Context, configID string) (*Token, error)
	// DeleteToken removes the entry. Deleting a missing entry is not an error.
	DeleteToken(ctx context.Context, configID string) error
}

// MemoryTokenStorage keeps tokens in a map. Safe for concurrent use.
type MemoryTokenStorage struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{tokens: make(map[string]*Token)}
}

func (s *MemoryTokenStorage) SaveToken(ctx context.Context, configID string, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[configID] = &copied
	return nil
}

func (s *MemoryTokenStorage) LoadToken(ctx context.Context, configID string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[configID]
	if !ok {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

func (s *MemoryTokenStorage) DeleteToken(ctx context.Context, configID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, configID)
	return nil
}

var _ TokenStorage = (*MemoryTokenStorage)(nil)
