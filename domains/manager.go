// Package domains implements the Domains Manager: a cache of frozen
// (temporarily avoided) base URLs and their resolved socket addresses,
// shared by the HTTP request pipeline and upload drivers so repeated
// calls to the same zone don't pay DNS and bad-host costs twice.
package domains

import (
	"context"
	"math/rand"
	"net"
	"net/netip"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/xushiwei/kodoupload/workerpool"
)

// resolution is the cached outcome of resolving one base URL's host.
type resolution struct {
	Addrs         []netip.Addr
	CacheDeadline time.Time
}

func (r resolution) expired(now time.Time) bool {
	return !r.CacheDeadline.After(now)
}

// Choice is one candidate the pipeline should attempt, in order: the
// original base URL plus whichever socket addresses it resolved to
// (empty if resolution is disabled or not yet available).
type Choice struct {
	BaseURL string
	Addrs   []netip.Addr
}

// Manager tracks frozen hosts and cached resolutions for a single
// upload client. Construct one via NewBuilder().Build() or
// LoadFromFile(path), never directly.
type Manager struct {
	cfg config

	frozen      sync.Map // string -> time.Time (frozen until)
	resolutions sync.Map // string -> resolution
	sf          singleflight.Group

	persistentFilePath string
	persistMu          sync.Mutex
	lastPersistentTime time.Time
	lastRefreshTime    time.Time

	resolver *net.Resolver
	pool     *workerpool.Pool
	log      zerolog.Logger

	refreshOnce sync.Once
}

func defaultResolver() *net.Resolver {
	return net.DefaultResolver
}

// hostWithPort reduces a base URL to the "host:port" key the
// resolution table is indexed by, filling in the scheme's default port
// when none is explicit. The frozen table does not use this key: it is
// indexed by the base URL string exactly as given, so two spellings of
// the same host (e.g. with and without an explicit default port) are
// frozen independently.
func hostWithPort(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", &URLParseError{URL: baseURL, Err: err}
	}
	if u.Host == "" {
		return "", &URLParseError{URL: baseURL, Err: nil}
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// FreezeURL marks baseURL as unavailable for the configured
// urlFrozenDuration, so Choose skips it until it thaws.
func (m *Manager) FreezeURL(baseURL string) {
	if m.cfg.urlFrozenDuration <= 0 {
		return
	}
	m.frozen.Store(baseURL, time.Now().Add(m.cfg.urlFrozenDuration))
	m.maybePersistAsync()
}

// IsFrozen reports whether baseURL is currently frozen.
func (m *Manager) IsFrozen(baseURL string) bool {
	v, ok := m.frozen.Load(baseURL)
	if !ok {
		return false
	}
	until := v.(time.Time)
	if time.Now().After(until) {
		m.frozen.Delete(baseURL)
		return false
	}
	return true
}

// UnfreezeAll clears every frozen entry immediately, letting the next
// Choose consider every host again, the counterpart of the original
// SDK's unfreeze_urls.
func (m *Manager) UnfreezeAll() {
	m.frozen.Clear()
	m.maybePersistAsync()
}

// Choose filters urls down to the non-frozen ones, resolving each to
// socket addresses unless resolution is disabled. If every url is
// frozen, Choose falls back to the one with the soonest thaw time
// rather than failing the caller outright.
func (m *Manager) Choose(urls []string) ([]Choice, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	live := make([]string, 0, len(urls))
	for _, u := range urls {
		if !m.IsFrozen(u) {
			live = append(live, u)
		}
	}
	if len(live) == 0 {
		live = []string{soonestToThaw(urls, m)}
	}

	choices := make([]Choice, 0, len(live))
	for _, u := range live {
		c := Choice{BaseURL: u}
		if !m.cfg.urlResolutionDisabled {
			if addrs, err := m.resolveURL(u); err == nil {
				c.Addrs = shuffledCopy(addrs)
			}
		}
		choices = append(choices, c)
	}
	return choices, nil
}

// shuffledCopy returns a freshly shuffled copy of addrs so the
// transport naturally spreads load across them. It never mutates
// addrs itself: that slice is the cached resolution shared by every
// caller, and resolveWithRetries' deterministic sort order is what
// makes the cache's own round-trip/comparison behavior predictable.
func shuffledCopy(addrs []netip.Addr) []netip.Addr {
	out := make([]netip.Addr, len(addrs))
	copy(out, addrs)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func soonestToThaw(urls []string, m *Manager) string {
	best := urls[0]
	bestUntil := time.Time{}
	for i, u := range urls {
		v, ok := m.frozen.Load(u)
		if !ok {
			return u
		}
		until := v.(time.Time)
		if i == 0 || until.Before(bestUntil) {
			best = u
			bestUntil = until
		}
	}
	return best
}

// resolveURL returns cached addresses for baseURL, refreshing them
// (with single-flight collapsing of concurrent callers) when the
// cache entry is missing or expired. A stale-but-present entry is
// still returned immediately if a concurrent refresh fails, so a
// transient DNS blip never turns into a hard error for the caller.
func (m *Manager) resolveURL(baseURL string) ([]netip.Addr, error) {
	key, err := hostWithPort(baseURL)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if v, ok := m.resolutions.Load(key); ok {
		r := v.(resolution)
		if !r.expired(now) {
			return r.Addrs, nil
		}
	}

	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		addrs, rerr := m.resolveWithRetries(key)
		if rerr != nil {
			return nil, rerr
		}
		r := resolution{Addrs: addrs, CacheDeadline: time.Now().Add(m.cfg.resolutionsCacheLifetime)}
		m.resolutions.Store(key, r)
		m.maybePersistAsync()
		return addrs, nil
	})
	if err != nil {
		if cached, ok := m.resolutions.Load(key); ok {
			return cached.(resolution).Addrs, nil
		}
		return nil, err
	}
	return v.([]netip.Addr), nil
}

// resolveWithRetries performs the actual lookup, making up to
// urlResolveRetries attempts (at least one) with a jittered
// [delay/2, delay) backoff between attempts, mirroring the original
// SDK's resolve loop.
func (m *Manager) resolveWithRetries(hostPort string) ([]netip.Addr, error) {
	host, _, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, &ResolveError{HostPort: hostPort, Err: err}
	}

	attempts := m.cfg.urlResolveRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ipAddrs, err := m.resolver.LookupIPAddr(ctx, host)
		cancel()
		if err == nil && len(ipAddrs) > 0 {
			addrs := make([]netip.Addr, 0, len(ipAddrs))
			for _, ip := range ipAddrs {
				if a, ok := netip.AddrFromSlice(ip.IP.To16()); ok {
					addrs = append(addrs, a.Unmap())
				}
			}
			sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })
			return addrs, nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = &ResolveError{HostPort: hostPort, Err: net.UnknownNetworkError("no addresses returned")}
		}
		if i < attempts-1 {
			jitter := m.cfg.urlResolveRetryDelay/2 + time.Duration(randN(int64(m.cfg.urlResolveRetryDelay/2)))
			time.Sleep(jitter)
		}
	}
	return nil, &ResolveError{HostPort: hostPort, Err: lastErr}
}

// randN returns a pseudo-random duration in [0, n) without pulling in
// math/rand's global lock semantics for what is, at most, a handful of
// retry-delay jitters per process lifetime.
func randN(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return time.Now().UnixNano() % n
}

// maybePersistAsync fires an opportunistic background Persist() call
// if auto-persistence is enabled and the configured interval has
// elapsed since the last write.
func (m *Manager) maybePersistAsync() {
	if m.cfg.persistentInterval == nil || m.persistentFilePath == "" {
		return
	}
	m.persistMu.Lock()
	due := time.Since(m.lastPersistentTime) >= *m.cfg.persistentInterval
	if due {
		m.lastPersistentTime = time.Now()
	}
	m.persistMu.Unlock()
	if due {
		m.persistAsync()
	}
}

// StartBackgroundRefresh launches the periodic resolution-refresh
// loop on the manager's worker pool. It is idempotent: calling it more
// than once has no additional effect. Build() does not call this
// automatically, since a short-lived Manager (e.g. in tests) should
// not pay for a goroutine it never needs.
func (m *Manager) StartBackgroundRefresh() {
	m.refreshOnce.Do(func() {
		if m.cfg.refreshResolutionsInterval == nil {
			return
		}
		m.pool.Submit(m.refreshLoop)
	})
}

func (m *Manager) refreshLoop() {
	interval := *m.cfg.refreshResolutionsInterval
	for {
		time.Sleep(interval)
		m.refreshExpired()
	}
}

// refreshExpired re-resolves every resolution entry whose deadline has
// already passed, so a host that's gone idle doesn't serve a stale
// address the next time it's actually needed.
func (m *Manager) refreshExpired() {
	now := time.Now()
	var stale []string
	m.resolutions.Range(func(key, value any) bool {
		if value.(resolution).expired(now) {
			stale = append(stale, key.(string))
		}
		return true
	})
	for _, key := range stale {
		if addrs, err := m.resolveWithRetries(key); err == nil {
			m.resolutions.Store(key, resolution{Addrs: addrs, CacheDeadline: time.Now().Add(m.cfg.resolutionsCacheLifetime)})
		}
	}
	m.lastRefreshTime = now
	if len(stale) > 0 {
		m.maybePersistAsync()
	}
}
