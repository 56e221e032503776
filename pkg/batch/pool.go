// Package batch runs operations across many DBPF archives.
package batch

import (
	"fmt"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/goopsie/dbpfTools/pkg/dbpf"
)

// DefaultPoolSize is the number of archives kept open by default.
const DefaultPoolSize = 16

// Pool keeps a bounded set of archives open, keyed by cleaned path. The least recently
// used archive is closed when the pool is full. An archive returned by Get is only valid
// until it is evicted, so callers should not hold more archives than the pool size.
type Pool struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *dbpf.Archive]
	size     int
	archive  []dbpf.Option
	closeErr error
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolSize sets the maximum number of open archives.
func WithPoolSize(n int) PoolOption {
	return func(p *Pool) {
		p.size = n
	}
}

// WithArchiveOptions sets the options used when opening archives.
func WithArchiveOptions(opts ...dbpf.Option) PoolOption {
	return func(p *Pool) {
		p.archive = opts
	}
}

// NewPool creates an empty pool.
func NewPool(opts ...PoolOption) (*Pool, error) {
	p := &Pool{size: DefaultPoolSize}
	for _, opt := range opts {
		opt(p)
	}

	cache, err := lru.NewWithEvict(p.size, p.evicted)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	p.cache = cache
	return p, nil
}

func (p *Pool) evicted(_ string, a *dbpf.Archive) {
	if err := a.Close(); err != nil && p.closeErr == nil {
		p.closeErr = err
	}
}

// Get returns the open archive at path, opening it on a miss.
func (p *Pool) Get(path string) (*dbpf.Archive, error) {
	key := filepath.Clean(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	if a, ok := p.cache.Get(key); ok {
		return a, nil
	}

	a, err := dbpf.Open(key, p.archive...)
	if err != nil {
		return nil, err
	}
	p.cache.Add(key, a)
	return a, nil
}

// Release closes and forgets the archive at path, if open.
func (p *Pool) Release(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Remove(filepath.Clean(path))
}

// Len returns the number of open archives.
func (p *Pool) Len() int {
	return p.cache.Len()
}

// Close closes every open archive. It returns the first close error seen since the pool
// was created, including errors from evictions.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Purge()
	return p.closeErr
}
