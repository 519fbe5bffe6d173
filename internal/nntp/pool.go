package nntp

import (
	"context"
	"fmt"
	"sync"

	"github.com/jvz-devx/usenetd/internal/config"
)

// pool is one connection pool per configured server: idle connections plus
// a semaphore bounding total concurrency to cfg.MaxConnection, grounded on
// the teacher's managedProvider (Provider + semaphore) but holding real
// *conn connections instead of dialing fresh per fetch.
type pool struct {
	cfg   config.ServerConfig
	sem   chan struct{}
	mu    sync.Mutex
	idle  []*conn
}

func newPool(cfg config.ServerConfig) *pool {
	return &pool{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxConnection),
	}
}

// acquire blocks (respecting ctx) for a free connection slot, dialing a new
// connection if no idle one is available.
func (p *pool) acquire(ctx context.Context) (*conn, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := dial(p.cfg)
	if err != nil {
		<-p.sem
		return nil, fmt.Errorf("pool %s: %w", p.cfg.ID, err)
	}
	return c, nil
}

// release returns the connection to the idle set (or drops it, if broken)
// and frees its semaphore slot.
func (p *pool) release(c *conn, broken bool) {
	if broken {
		c.Close()
	} else {
		p.mu.Lock()
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}
	<-p.sem
}

func (p *pool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.idle {
		c.Close()
	}
	p.idle = nil
}

// tryAcquire is a non-blocking acquire used by the manager's failover loop
// so a busy provider is skipped rather than waited on.
func (p *pool) tryAcquire() (*conn, bool, error) {
	select {
	case p.sem <- struct{}{}:
	default:
		return nil, false, nil
	}

	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return c, true, nil
	}
	p.mu.Unlock()

	c, err := dial(p.cfg)
	if err != nil {
		<-p.sem
		return nil, true, err
	}
	return c, true, nil
}
