package spider

import (
	"sync/atomic"

	"github.com/crawlkit/crawlkit/internal/crawl"
)

// proxyRing hands proxies out round-robin across concurrent workers. Request
// proxies take precedence over the service pool; an empty ring means direct
// connections.
type proxyRing struct {
	pool []crawl.ProxyServer
	next atomic.Uint64
}

func newProxyRing(requestPool, servicePool []crawl.ProxyServer) *proxyRing {
	pool := requestPool
	if len(pool) == 0 {
		pool = servicePool
	}
	usable := make([]crawl.ProxyServer, 0, len(pool))
	for _, p := range pool {
		if p.URL() != "" {
			usable = append(usable, p)
		}
	}
	return &proxyRing{pool: usable}
}

// pick returns the next proxy in rotation, or nil when the ring is empty.
func (r *proxyRing) pick() *crawl.ProxyServer {
	if r == nil || len(r.pool) == 0 {
		return nil
	}
	idx := (r.next.Add(1) - 1) % uint64(len(r.pool))
	p := r.pool[idx]
	return &p
}
