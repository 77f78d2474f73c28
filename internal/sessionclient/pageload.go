package sessionclient

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Source resolves the current session. *Client implements it.
type Source interface {
	GetSession(ctx context.Context) (Session, error)
}

// PageLoad caches one session check for a single page load. Concurrent callers share
// one round-trip. Start a new PageLoad for every navigation so a revoked session is
// never served from cache.
type PageLoad struct {
	src   Source
	group singleflight.Group

	mu   sync.Mutex
	done bool
	sess Session
	err  error
}

// NewPageLoad returns a PageLoad reading from src.
func NewPageLoad(src Source) *PageLoad {
	return &PageLoad{src: src}
}

// NewPageLoad returns a PageLoad backed by c.
func (c *Client) NewPageLoad() *PageLoad {
	return NewPageLoad(c)
}

// Session returns the page load's session, fetching it on first use.
func (p *PageLoad) Session(ctx context.Context) (Session, error) {
	p.mu.Lock()
	if p.done {
		defer p.mu.Unlock()
		return p.sess, p.err
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("session", func() (any, error) {
		p.mu.Lock()
		if p.done {
			defer p.mu.Unlock()
			return p.sess, p.err
		}
		p.mu.Unlock()

		sess, err := p.src.GetSession(ctx)
		p.mu.Lock()
		p.done, p.sess, p.err = true, sess, err
		p.mu.Unlock()
		return sess, err
	})
	sess, _ := v.(Session)
	return sess, err
}
