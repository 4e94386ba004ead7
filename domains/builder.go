package domains

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/xushiwei/kodoupload/region"
	"github.com/xushiwei/kodoupload/workerpool"
)

// Builder constructs a Manager. The zero value is not usable; start
// from NewBuilder or LoadFromFile.
type Builder struct {
	cfg                 config
	persistentFilePath  string
	preResolveURLs      []string
	preResolveAsync     bool
	log                 zerolog.Logger
	pool                *workerpool.Pool
	restoreFrozen       []persistedFrozen
	restoreResolutions  []persistedResolution
}

// NewBuilder returns a builder seeded with the §6 defaults and the
// default pre-resolve set (every built-in region's service endpoints),
// resolved asynchronously after Build() returns.
func NewBuilder() *Builder {
	return &Builder{
		cfg:                defaultConfig(),
		persistentFilePath: DefaultPersistentFilePath(),
		preResolveURLs:     defaultPreResolveURLs(),
		preResolveAsync:    true,
		log:                zerolog.Nop(),
		pool:               workerpool.Default(),
	}
}

func defaultPreResolveURLs() []string {
	urls := make([]string, 0, 64)
	for _, r := range region.All() {
		urls = append(urls, r.Up.Hosts(false)...)
		urls = append(urls, r.Up.Hosts(true)...)
		urls = append(urls, r.IO.Hosts(false)...)
		urls = append(urls, r.IO.Hosts(true)...)
		urls = append(urls, r.RS.Hosts(false)...)
		urls = append(urls, r.RS.Hosts(true)...)
		urls = append(urls, r.RSF.Hosts(false)...)
		urls = append(urls, r.RSF.Hosts(true)...)
		urls = append(urls, r.API.Hosts(false)...)
		urls = append(urls, r.API.Hosts(true)...)
	}
	return urls
}

// LoadFromFile restores a builder from a previously persisted state
// file. On success, pre-resolution is skipped entirely (the loaded
// resolutions already seed the cache), matching the original SDK's
// "pre_resolve_async: false when loaded from file" — here that means
// no further pre-resolve work at all, not merely synchronous.
func LoadFromFile(path string) (*Builder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &PersistentError{Path: path, Err: err}
	}
	defer f.Close()

	var persisted persistedState
	if err := json.NewDecoder(f).Decode(&persisted); err != nil {
		return nil, &PersistentError{Path: path, Err: err}
	}

	b := &Builder{
		cfg:                persisted.toConfig(),
		persistentFilePath: path,
		log:                zerolog.Nop(),
		pool:               workerpool.Default(),
		restoreFrozen:      persisted.FrozenURLs,
		restoreResolutions: persisted.Resolutions,
	}
	return b, nil
}

// UseDefaultOrLoad returns a builder loaded from path if it parses,
// otherwise a fresh builder seeded with the default pre-resolve set —
// the behavior the original SDK's Default impl falls back to.
func UseDefaultOrLoad(path string) *Builder {
	if b, err := LoadFromFile(path); err == nil {
		return b
	}
	b := NewBuilder()
	b.persistentFilePath = path
	return b
}

func (b *Builder) URLFrozenDuration(d time.Duration) *Builder {
	b.cfg.urlFrozenDuration = d
	return b
}

func (b *Builder) ResolutionsCacheLifetime(d time.Duration) *Builder {
	b.cfg.resolutionsCacheLifetime = d
	return b
}

func (b *Builder) DisableURLResolution() *Builder {
	b.cfg.urlResolutionDisabled = true
	return b
}

func (b *Builder) EnableURLResolution() *Builder {
	b.cfg.urlResolutionDisabled = false
	return b
}

func (b *Builder) AutoPersistentInterval(d time.Duration) *Builder {
	b.cfg.persistentInterval = &d
	return b
}

func (b *Builder) DisableAutoPersistent() *Builder {
	b.cfg.persistentInterval = nil
	return b
}

func (b *Builder) RefreshResolutionsInterval(d time.Duration) *Builder {
	b.cfg.refreshResolutionsInterval = &d
	return b
}

func (b *Builder) DisableRefreshResolutions() *Builder {
	b.cfg.refreshResolutionsInterval = nil
	return b
}

func (b *Builder) URLResolveRetries(n int) *Builder {
	b.cfg.urlResolveRetries = n
	return b
}

func (b *Builder) URLResolveRetryDelay(d time.Duration) *Builder {
	b.cfg.urlResolveRetryDelay = d
	return b
}

func (b *Builder) PersistentFilePath(path string) *Builder {
	b.persistentFilePath = path
	return b
}

// DisablePersistence drops the persistent file path entirely: neither
// opportunistic nor explicit Persist() calls will write anything.
func (b *Builder) DisablePersistence() *Builder {
	b.persistentFilePath = ""
	return b
}

func (b *Builder) PreResolveURL(url string) *Builder {
	b.preResolveURLs = append(b.preResolveURLs, url)
	return b
}

func (b *Builder) PreResolveAsync(async bool) *Builder {
	b.preResolveAsync = async
	return b
}

func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.log = log
	return b
}

func (b *Builder) WithWorkerPool(pool *workerpool.Pool) *Builder {
	b.pool = pool
	return b
}

// Build constructs the Manager, seeding it from any restored state and
// kicking off pre-resolution if configured.
func (b *Builder) Build() *Manager {
	m := &Manager{
		cfg:                 b.cfg,
		persistentFilePath:  b.persistentFilePath,
		lastPersistentTime:  time.Now(),
		lastRefreshTime:     time.Now(),
		log:                 b.log,
		pool:                b.pool,
		resolver:            defaultResolver(),
	}
	if m.pool == nil {
		m.pool = workerpool.Default()
	}
	for _, fr := range b.restoreFrozen {
		m.frozen.Store(fr.BaseURL, time.Unix(fr.FrozenUntil, 0))
	}
	for _, rr := range b.restoreResolutions {
		m.resolutions.Store(rr.BaseURL, resolution{
			Addrs:         parseAddrs(rr.SocketAddrs),
			CacheDeadline: time.Unix(rr.CacheDeadline, 0),
		})
	}

	if len(b.preResolveURLs) > 0 {
		if b.preResolveAsync {
			urls := append([]string(nil), b.preResolveURLs...)
			m.pool.Submit(func() { asyncPreResolve(m, urls) })
		} else {
			asyncPreResolve(m, append([]string(nil), b.preResolveURLs...))
		}
	}
	return m
}

// asyncPreResolve mirrors DomainsManagerBuilder::async_pre_resolve_urls:
// up to three rounds, each round dropping URLs that resolved.
func asyncPreResolve(m *Manager, urls []string) {
	for i := 0; i < 3 && len(urls) > 0; i++ {
		remaining := urls[:0]
		for _, u := range urls {
			if _, err := m.resolveURL(u); err != nil {
				remaining = append(remaining, u)
			}
		}
		urls = remaining
	}
}
