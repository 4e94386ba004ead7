package domains

import (
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"time"
)

// jsonDuration mirrors Rust's serde encoding of std::time::Duration:
// an object with separate whole-seconds and sub-second-nanos fields.
type jsonDuration struct {
	Secs  int64 `json:"secs"`
	Nanos int32 `json:"nanos"`
}

func durationToJSON(d time.Duration) jsonDuration {
	return jsonDuration{
		Secs:  int64(d / time.Second),
		Nanos: int32(d % time.Second),
	}
}

func (j jsonDuration) toDuration() time.Duration {
	return time.Duration(j.Secs)*time.Second + time.Duration(j.Nanos)
}

// persistedFrozen is one row of the on-disk frozenUrls table.
type persistedFrozen struct {
	BaseURL     string `json:"baseUrl"`
	FrozenUntil int64  `json:"frozenUntil"`
}

// persistedResolution is one row of the on-disk resolutions table.
type persistedResolution struct {
	BaseURL       string   `json:"baseUrl"`
	SocketAddrs   []string `json:"socketAddrs"`
	CacheDeadline int64    `json:"cacheDeadline"`
}

// persistedState is the exact on-disk shape §6 names: the frozen and
// resolution tables plus every builder tunable, so a restart restores
// the Domains Manager to the configuration it was saved under.
type persistedState struct {
	FrozenURLs                 []persistedFrozen     `json:"frozenUrls"`
	Resolutions                []persistedResolution `json:"resolutions"`
	URLFrozenDuration           jsonDuration          `json:"urlFrozenDuration"`
	ResolutionsCacheLifetime    jsonDuration          `json:"resolutionsCacheLifetime"`
	URLResolutionDisabled       bool                  `json:"urlResolutionDisabled"`
	PersistentInterval          *jsonDuration         `json:"persistentInterval"`
	RefreshResolutionsInterval  *jsonDuration         `json:"refreshResolutionsInterval"`
	URLResolveRetries           int                   `json:"urlResolveRetries"`
	URLResolveRetryDelay        jsonDuration          `json:"urlResolveRetryDelay"`
}

func (s persistedState) toConfig() config {
	cfg := config{
		urlFrozenDuration:        s.URLFrozenDuration.toDuration(),
		resolutionsCacheLifetime: s.ResolutionsCacheLifetime.toDuration(),
		urlResolutionDisabled:    s.URLResolutionDisabled,
		urlResolveRetries:        s.URLResolveRetries,
		urlResolveRetryDelay:     s.URLResolveRetryDelay.toDuration(),
	}
	if s.PersistentInterval != nil {
		d := s.PersistentInterval.toDuration()
		cfg.persistentInterval = &d
	}
	if s.RefreshResolutionsInterval != nil {
		d := s.RefreshResolutionsInterval.toDuration()
		cfg.refreshResolutionsInterval = &d
	}
	return cfg
}

func parseAddrs(ss []string) []netip.Addr {
	out := make([]netip.Addr, 0, len(ss))
	for _, s := range ss {
		if addr, err := netip.ParseAddr(s); err == nil {
			out = append(out, addr)
		}
	}
	return out
}

func formatAddrs(addrs []netip.Addr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// snapshot renders the Manager's current in-memory state to the
// persisted shape, ready for JSON encoding.
func (m *Manager) snapshot() persistedState {
	s := persistedState{
		URLFrozenDuration:        durationToJSON(m.cfg.urlFrozenDuration),
		ResolutionsCacheLifetime: durationToJSON(m.cfg.resolutionsCacheLifetime),
		URLResolutionDisabled:    m.cfg.urlResolutionDisabled,
		URLResolveRetries:        m.cfg.urlResolveRetries,
		URLResolveRetryDelay:     durationToJSON(m.cfg.urlResolveRetryDelay),
	}
	if m.cfg.persistentInterval != nil {
		d := durationToJSON(*m.cfg.persistentInterval)
		s.PersistentInterval = &d
	}
	if m.cfg.refreshResolutionsInterval != nil {
		d := durationToJSON(*m.cfg.refreshResolutionsInterval)
		s.RefreshResolutionsInterval = &d
	}

	m.frozen.Range(func(key, value any) bool {
		s.FrozenURLs = append(s.FrozenURLs, persistedFrozen{
			BaseURL:     key.(string),
			FrozenUntil: value.(time.Time).Unix(),
		})
		return true
	})
	m.resolutions.Range(func(key, value any) bool {
		r := value.(resolution)
		s.Resolutions = append(s.Resolutions, persistedResolution{
			BaseURL:       key.(string),
			SocketAddrs:   formatAddrs(r.Addrs),
			CacheDeadline: r.CacheDeadline.Unix(),
		})
		return true
	})
	return s
}

// Persist writes the Manager's current state to its configured
// persistent file path. It is a no-op if the manager was built with
// DisablePersistence.
func (m *Manager) Persist() error {
	if m.persistentFilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.persistentFilePath), 0o755); err != nil {
		return &PersistentError{Path: m.persistentFilePath, Err: err}
	}
	tmp := m.persistentFilePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return &PersistentError{Path: m.persistentFilePath, Err: err}
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m.snapshot()); err != nil {
		f.Close()
		os.Remove(tmp)
		return &PersistentError{Path: m.persistentFilePath, Err: err}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &PersistentError{Path: m.persistentFilePath, Err: err}
	}
	if err := os.Rename(tmp, m.persistentFilePath); err != nil {
		return &PersistentError{Path: m.persistentFilePath, Err: err}
	}
	m.lastPersistentTime = time.Now()
	return nil
}

// persistAsync submits a Persist() call to the background pool and
// logs (but does not propagate) any failure — persistence is always
// opportunistic, never load-bearing for a request in flight.
func (m *Manager) persistAsync() {
	m.pool.Submit(func() {
		if err := m.Persist(); err != nil {
			m.log.Warn().Err(err).Msg("domains: opportunistic persist failed")
		}
	})
}
