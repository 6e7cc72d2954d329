package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/usdcpay/ports"
)

// MemoryNonceStore is an in-memory implementation of the NonceStore interface
type MemoryNonceStore struct {
	nonces map[string]time.Time
	mu     sync.Mutex
	now    func() time.Time
}

// NewMemoryNonceStore creates a new in-memory nonce store
func NewMemoryNonceStore() ports.NonceStore {
	return &MemoryNonceStore{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

// Save records a nonce until ttl elapses
func (s *MemoryNonceStore) Save(ctx context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	// Drop expired entries so the map stays bounded
	for n, expiry := range s.nonces {
		if !now.Before(expiry) {
			delete(s.nonces, n)
		}
	}

	s.nonces[nonce] = now.Add(ttl)
	return nil
}

// Consume removes a nonce and reports whether it was still live
func (s *MemoryNonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.nonces[nonce]
	if !exists {
		return false, nil
	}
	delete(s.nonces, nonce)

	return s.now().Before(expiry), nil
}
