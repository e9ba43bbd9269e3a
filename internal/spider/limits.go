package spider

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// hostLimiter bounds in-flight fetches per domain and per resolved IP, on top
// of the orchestrator's global cap. Both keys get a weighted semaphore created
// lazily on first use.
type hostLimiter struct {
	perDomain int64
	perIP     int64

	domainSems sync.Map
	ipSems     sync.Map

	resolveMu sync.Mutex
	ipCache   map[string]string
	resolver  *net.Resolver
}

func newHostLimiter(perDomain, perIP int) *hostLimiter {
	return &hostLimiter{
		perDomain: int64(perDomain),
		perIP:     int64(perIP),
		ipCache:   make(map[string]string),
		resolver:  net.DefaultResolver,
	}
}

// acquire claims one slot for the URL's domain and IP. The returned release
// function must be called exactly once.
func (l *hostLimiter) acquire(ctx context.Context, host string) (func(), error) {
	host = strings.ToLower(host)
	releases := make([]func(), 0, 2)
	release := func() {
		for _, r := range releases {
			r()
		}
	}

	if l.perDomain > 0 {
		sem := l.semFor(&l.domainSems, host, l.perDomain)
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("acquire domain slot: %w", err)
		}
		releases = append(releases, func() { sem.Release(1) })
	}

	if l.perIP > 0 {
		ip := l.lookupIP(ctx, host)
		if ip != "" {
			sem := l.semFor(&l.ipSems, ip, l.perIP)
			if err := sem.Acquire(ctx, 1); err != nil {
				release()
				return nil, fmt.Errorf("acquire ip slot: %w", err)
			}
			releases = append(releases, func() { sem.Release(1) })
		}
	}

	return release, nil
}

func (l *hostLimiter) semFor(store *sync.Map, key string, weight int64) *semaphore.Weighted {
	if existing, ok := store.Load(key); ok {
		return existing.(*semaphore.Weighted)
	}
	created, _ := store.LoadOrStore(key, semaphore.NewWeighted(weight))
	return created.(*semaphore.Weighted)
}

// lookupIP resolves and caches the host's first address. Resolution failures
// return "" so the fetch itself reports the DNS error.
func (l *hostLimiter) lookupIP(ctx context.Context, host string) string {
	l.resolveMu.Lock()
	defer l.resolveMu.Unlock()
	if ip, ok := l.ipCache[host]; ok {
		return ip
	}
	addrs, err := l.resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		l.ipCache[host] = ""
		return ""
	}
	ip := addrs[0].IP.String()
	l.ipCache[host] = ip
	return ip
}
