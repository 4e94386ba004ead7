package domains

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xushiwei/kodoupload/workerpool"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	b := NewBuilder().
		PersistentFilePath(filepath.Join(t.TempDir(), "domains_manager.json")).
		DisableAutoPersistent().
		DisableRefreshResolutions()
	// Pre-resolve is async on NewBuilder(); tests don't want the
	// default region set resolved in the background, so build a bare
	// manager instead of going through asyncPreResolve's URL list.
	b.preResolveURLs = nil
	return b.Build()
}

func TestFreezeAndChoose(t *testing.T) {
	m := testManager(t)
	m.cfg.urlResolutionDisabled = true

	urls := []string{"http://a.example.com", "http://b.example.com", "http://c.example.com"}

	m.FreezeURL("http://a.example.com")
	assert.True(t, m.IsFrozen("http://a.example.com"))
	assert.False(t, m.IsFrozen("http://b.example.com"))

	choices, err := m.Choose(urls)
	require.NoError(t, err)
	require.Len(t, choices, 2)
	assert.Equal(t, "http://b.example.com", choices[0].BaseURL)
	assert.Equal(t, "http://c.example.com", choices[1].BaseURL)
}

func TestChooseFallsBackWhenAllFrozen(t *testing.T) {
	m := testManager(t)
	m.cfg.urlResolutionDisabled = true
	m.cfg.urlFrozenDuration = time.Hour

	urls := []string{"http://a.example.com", "http://b.example.com"}
	m.FreezeURL("http://a.example.com")
	// Freeze b for a shorter remaining window by back-dating its thaw time.
	m.frozen.Store("http://b.example.com", time.Now().Add(time.Minute))

	choices, err := m.Choose(urls)
	require.NoError(t, err)
	require.Len(t, choices, 1)
	assert.Equal(t, "http://b.example.com", choices[0].BaseURL, "soonest-to-thaw host should still be offered")
}

func TestUnfreezeAll(t *testing.T) {
	m := testManager(t)
	m.cfg.urlResolutionDisabled = true

	m.FreezeURL("http://a.example.com")
	m.FreezeURL("http://b.example.com")
	m.UnfreezeAll()

	assert.False(t, m.IsFrozen("http://a.example.com"))
	assert.False(t, m.IsFrozen("http://b.example.com"))
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	m := NewBuilder().
		PersistentFilePath(path).
		DisableAutoPersistent().
		DisableRefreshResolutions().
		Build()
	m.cfg.urlResolutionDisabled = true

	m.FreezeURL("http://frozen.example.com")
	m.resolutions.Store("resolved.example.com:80", resolution{
		Addrs:         []netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2")},
		CacheDeadline: time.Now().Add(time.Hour).Truncate(time.Second),
	})

	require.NoError(t, m.Persist())

	reloadedBuilder, err := LoadFromFile(path)
	require.NoError(t, err)
	reloaded := reloadedBuilder.Build()

	before := m.snapshot()
	after := reloaded.snapshot()
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("persisted state round-trip mismatch (-before +after):\n%s", diff)
	}
}

func TestPersistIsNoOpWhenDisabled(t *testing.T) {
	m := NewBuilder().DisablePersistence().DisableAutoPersistent().DisableRefreshResolutions().Build()
	require.NoError(t, m.Persist())
}

func TestMaybePersistAsyncRespectsInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	// A dedicated pool with no pre-resolve work queued on it, so the
	// async persist is not stuck behind default-region lookups.
	b := NewBuilder().
		PersistentFilePath(path).
		AutoPersistentInterval(time.Hour).
		DisableRefreshResolutions().
		WithWorkerPool(workerpool.New(1))
	b.preResolveURLs = nil
	m := b.Build()
	m.cfg.urlResolutionDisabled = true

	m.FreezeURL("http://a.example.com")
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "freeze within the interval should not trigger a write")

	m.lastPersistentTime = time.Now().Add(-2 * time.Hour)
	m.FreezeURL("http://b.example.com")

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 10*time.Millisecond, "freeze past the interval should trigger an async persist")
}

func TestHostWithPortDefaultsPort(t *testing.T) {
	key, err := hostWithPort("https://up.qbox.me/put")
	require.NoError(t, err)
	assert.Equal(t, "up.qbox.me:443", key)

	key, err = hostWithPort("http://up.qiniup.com")
	require.NoError(t, err)
	assert.Equal(t, "up.qiniup.com:80", key)

	key, err = hostWithPort("http://up.qiniup.com:8080")
	require.NoError(t, err)
	assert.Equal(t, "up.qiniup.com:8080", key)
}

func TestHostWithPortRejectsInvalidURL(t *testing.T) {
	_, err := hostWithPort("not a url at all://")
	assert.Error(t, err)
}
