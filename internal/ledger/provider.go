// Package ledger wraps the chain RPC and token contract calls behind a
// gateway with single-attempt semantics. Retry policy lives in the
// callers; the gateway only manages connections and error classification.
package ledger

import (
	"fmt"
	"sync"
)

// RPCProvider tracks the active RPC endpoint with primary/secondary
// failover. Health bookkeeping is intentionally minimal: the sweeper's
// circuit breaker owns fail-fast behavior.
type RPCProvider struct {
	mu           sync.RWMutex
	primaryURL   string
	secondaryURL string
	currentURL   string
}

// NewRPCProvider creates a provider with a primary and optional secondary URL
func NewRPCProvider(primaryURL, secondaryURL string) (*RPCProvider, error) {
	if primaryURL == "" {
		return nil, fmt.Errorf("primary URL cannot be empty")
	}

	return &RPCProvider{
		primaryURL:   primaryURL,
		secondaryURL: secondaryURL,
		currentURL:   primaryURL,
	}, nil
}

// CurrentURL returns the currently active RPC endpoint URL
func (p *RPCProvider) CurrentURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentURL
}

// Failover switches to the other endpoint. Returns an error when no
// alternative is configured.
func (p *RPCProvider) Failover() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.currentURL == p.primaryURL {
		if p.secondaryURL == "" {
			return fmt.Errorf("no secondary RPC endpoint configured")
		}
		p.currentURL = p.secondaryURL
		return nil
	}

	p.currentURL = p.primaryURL
	return nil
}

// Reset switches back to the primary endpoint
func (p *RPCProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.currentURL = p.primaryURL
}
