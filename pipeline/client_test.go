package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xushiwei/kodoupload/domains"
)

func testManager(t *testing.T) *domains.Manager {
	t.Helper()
	return domains.NewBuilder().
		DisablePersistence().
		DisableAutoPersistent().
		DisableRefreshResolutions().
		DisableURLResolution().
		Build()
}

func TestDoSucceedsOnFirstHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := NewClient(testManager(t))
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodGet,
		Zones:  [][]string{{srv.URL}},
		Path:   "/status",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Body))
}

func Test500IsRetriedThenSucceedsOnNextHost(t *testing.T) {
	var bad int32
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&bad, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSrv.Close()

	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer goodSrv.Close()

	c := NewClient(testManager(t), WithDefaultRetries(2))
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodGet,
		Zones:  [][]string{{badSrv.URL, goodSrv.URL}},
		Path:   "/",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&bad), "each retry attempt plus the original call should hit the bad host")
}

func Test503FreezesHostWithoutConsumingRetryBudget(t *testing.T) {
	var calls int32
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer badSrv.Close()

	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer goodSrv.Close()

	m := testManager(t)
	c := NewClient(m, WithDefaultRetries(3))
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodGet,
		Zones:  [][]string{{badSrv.URL, goodSrv.URL}},
		Path:   "/",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "503 must move to the next host on the first failure, no retries")
	assert.True(t, m.IsFrozen(badSrv.URL))
}

func TestIncorrectRegionAbandonsZone(t *testing.T) {
	var zone1Calls, zone2Calls int32
	zone1A := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&zone1Calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"incorrect region, try another zone"}`))
	}))
	defer zone1A.Close()
	zone1B := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&zone1Calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer zone1B.Close()
	zone2A := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&zone2Calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer zone2A.Close()

	c := NewClient(testManager(t), WithDefaultRetries(3))
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodGet,
		Zones:  [][]string{{zone1A.URL, zone1B.URL}, {zone2A.URL}},
		Path:   "/",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&zone1Calls), "incorrect-region abandons the rest of zone1 without trying zone1B")
	assert.Equal(t, int32(1), atomic.LoadInt32(&zone2Calls))
}

func Test4xxIsImmediatelyFatal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testManager(t), WithDefaultRetries(3))
	_, err := c.Do(context.Background(), &Request{
		Method: http.MethodGet,
		Zones:  [][]string{{srv.URL}},
		Path:   "/",
	})
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNonIdempotentPOSTIsNotRetriedOnSameHost(t *testing.T) {
	var calls int32
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer badSrv.Close()
	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer goodSrv.Close()

	c := NewClient(testManager(t), WithDefaultRetries(3))
	resp, err := c.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Zones:  [][]string{{badSrv.URL, goodSrv.URL}},
		Path:   "/",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "non-idempotent POST escalates to the next host on the first 500")
}

func TestReqidIsAttachedAndStableAcrossRetries(t *testing.T) {
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.Header.Get("X-Reqid"))
		if len(ids) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(testManager(t), WithDefaultRetries(2))
	_, err := c.Do(context.Background(), &Request{
		Method: http.MethodGet,
		Zones:  [][]string{{srv.URL}},
		Path:   "/",
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, ids[0], ids[1], "every attempt within one Do call should share the same reqid")
}

func TestIdempotentPOSTIsRetriedLikeGET(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(testManager(t), WithDefaultRetries(3))
	resp, err := c.Do(context.Background(), &Request{
		Method:     http.MethodPost,
		Zones:      [][]string{{srv.URL}},
		Path:       "/",
		Idempotent: true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
