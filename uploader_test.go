package kodoupload

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xushiwei/kodoupload/region"
)

func TestPutFileUsesFormDriverBelowThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"key":"small.txt","hash":"h1"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "small.txt")
	require.NoError(t, os.WriteFile(path, []byte("tiny file"), 0o644))

	m, err := NewManager(Config{
		Regions:     []region.Region{{Name: "test", Up: region.Endpoints{HTTP: []string{srv.URL}}}},
		RecordDir:   t.TempDir(),
		BlockSize:   4 << 20,
		Concurrency: 2,
		Retries:     1,
	})
	require.NoError(t, err)

	ret, err := m.PutFile(context.Background(), "tok", path, "small.txt")
	require.NoError(t, err)
	assert.Equal(t, "small.txt", ret.Key)
}
