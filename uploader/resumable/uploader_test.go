package resumable

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xushiwei/kodoupload/domains"
	"github.com/xushiwei/kodoupload/pipeline"
	"github.com/xushiwei/kodoupload/recorder"
)

// fakeServer implements just enough of init_parts/upload_part/
// complete_parts to drive the uploader end to end: one upload_id per
// init_parts call, parts keyed by (uploadId, partNumber).
type fakeServer struct {
	mu         sync.Mutex
	sessions   map[string]map[int][]byte
	nextID     int32
	initCalls  int32
	partCalls  int32
	closeCalls int32
	// completedParts is the part-number list of the last complete_parts body.
	completedParts []int
}

func newFakeServer() (*httptest.Server, *fakeServer) {
	fs := &fakeServer{sessions: make(map[string]map[int][]byte)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/buckets/")
		segs := strings.Split(path, "/")
		// segs: {bucket, "objects", key, "uploads", [uploadId, [partNumber]]}
		if len(segs) < 4 || segs[1] != "objects" || segs[3] != "uploads" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch {
		case len(segs) == 4 && r.Method == http.MethodPost:
			atomic.AddInt32(&fs.initCalls, 1)
			id := fmt.Sprintf("up-%d", atomic.AddInt32(&fs.nextID, 1))
			fs.mu.Lock()
			fs.sessions[id] = make(map[int][]byte)
			fs.mu.Unlock()
			writeJSON(w, map[string]any{"uploadId": id})

		case len(segs) == 6 && r.Method == http.MethodPut:
			atomic.AddInt32(&fs.partCalls, 1)
			uploadID, partNumber := segs[4], segs[5]
			n, _ := strconv.Atoi(partNumber)
			data, _ := readAll(r)
			etag := fmt.Sprintf("etag-%s-%d", uploadID, len(data))
			fs.mu.Lock()
			fs.sessions[uploadID][n] = data
			fs.mu.Unlock()
			writeJSON(w, map[string]any{"etag": etag})

		case len(segs) == 5 && r.Method == http.MethodPost:
			atomic.AddInt32(&fs.closeCalls, 1)
			uploadID := segs[4]
			var body struct {
				Parts []struct {
					Etag       string `json:"etag"`
					PartNumber int    `json:"partNumber"`
				} `json:"parts"`
			}
			raw, _ := readAll(r)
			_ = json.Unmarshal(raw, &body)

			fs.mu.Lock()
			parts := fs.sessions[uploadID]
			fs.completedParts = fs.completedParts[:0]
			for _, p := range body.Parts {
				fs.completedParts = append(fs.completedParts, p.PartNumber)
			}
			fs.mu.Unlock()
			var full bytes.Buffer
			for _, p := range body.Parts {
				full.Write(parts[p.PartNumber])
			}
			key, _ := base64.URLEncoding.DecodeString(segs[2])
			writeJSON(w, map[string]any{"key": string(key), "hash": fmt.Sprintf("hash-%d", full.Len())})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	return srv, fs
}

func readAll(r *http.Request) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(r.Body)
	return buf.Bytes(), err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func testClient(t *testing.T, srv *httptest.Server) *pipeline.Client {
	t.Helper()
	manager := domains.NewBuilder().DisablePersistence().DisableAutoPersistent().
		DisableRefreshResolutions().DisableURLResolution().Build()
	return pipeline.NewClient(manager, pipeline.WithDefaultRetries(1))
}

func randomContent(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestPutUploadsAllPartsAndCompletes(t *testing.T) {
	srv, fs := newFakeServer()
	defer srv.Close()

	rec, err := recorder.New(t.TempDir())
	require.NoError(t, err)

	blockSize := int64(8)
	u := NewUploader(testClient(t, srv), "mybucket", [][]string{{srv.URL}}, rec, blockSize, 3)

	content := "abcdefghijklmnopqrstuvwxyz01234" // 31 bytes -> 4 parts of size 8,8,8,7
	src := bytes.NewReader([]byte(content))

	ret, err := u.Put(context.Background(), "tok", "/tmp/f.bin", "f.bin", src, int64(len(content)), 100, nil)
	require.NoError(t, err)
	assert.Equal(t, "f.bin", ret.Key)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fs.initCalls))
	assert.Equal(t, int32(4), atomic.LoadInt32(&fs.partCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fs.closeCalls))

	// the record should have been cleaned up on success
	_, _, ok := rec.Load("/tmp/f.bin", "f.bin")
	assert.False(t, ok)
}

func TestPutResumesFromRecordedSession(t *testing.T) {
	srv, fs := newFakeServer()
	defer srv.Close()

	dir := t.TempDir()
	rec, err := recorder.New(dir)
	require.NoError(t, err)

	blockSize := int64(4)
	content := randomContent(t, 16) // 4 parts of 4 bytes

	// Open a session directly against the fake server the way initParts
	// would, so the recorded upload_id is one the server actually
	// recognizes.
	fakeClient := testClient(t, srv)
	pinned := newZonePin([][]string{{srv.URL}})
	u := NewUploader(fakeClient, "mybucket", [][]string{{srv.URL}}, rec, blockSize, 2)
	uploadID, upURLs, err := u.initParts(context.Background(), pinned, "tok", "g.bin")
	require.NoError(t, err)

	sess, err := rec.OpenAndWriteMetadata("/tmp/g.bin", "g.bin", recorder.Metadata{
		FileSize: int64(len(content)), ModTime: 42, BlockSize: blockSize, Key: "g.bin", UpToken: "tok",
		UploadID: uploadID, UpURLs: upURLs, CreatedAt: time.Now().Unix(),
	})
	require.NoError(t, err)

	firstBlock := content[:4]
	etag, err := u.uploadPart(context.Background(), pinned, "tok", "g.bin", uploadID, blockPlan{PartNumber: 1, Offset: 0, Size: 4}, firstBlock, &Extra{})
	require.NoError(t, err)
	require.NoError(t, sess.Append(recorder.BlockItem{PartNumber: 1, Offset: 0, Size: 4, Etag: etag}))
	require.NoError(t, sess.Close())

	atomic.StoreInt32(&fs.initCalls, 0)
	atomic.StoreInt32(&fs.partCalls, 0)

	src := bytes.NewReader(content)
	ret, err := u.Put(context.Background(), "tok", "/tmp/g.bin", "g.bin", src, int64(len(content)), 42, nil)
	require.NoError(t, err)
	assert.Equal(t, "g.bin", ret.Key)

	assert.Equal(t, int32(0), atomic.LoadInt32(&fs.initCalls), "a valid recorded session must skip init_parts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&fs.partCalls), "only the 3 remaining parts should be uploaded")
}

func TestCompletePartsSendsContiguousPartNumbers(t *testing.T) {
	srv, fs := newFakeServer()
	defer srv.Close()

	rec, err := recorder.New(t.TempDir())
	require.NoError(t, err)

	blockSize := int64(3)
	u := NewUploader(testClient(t, srv), "mybucket", [][]string{{srv.URL}}, rec, blockSize, 4)

	content := randomContent(t, 10) // 4 parts: 3,3,3,1
	src := bytes.NewReader(content)

	ret, err := u.Put(context.Background(), "tok", "/tmp/h.bin", "h.bin", src, int64(len(content)), 7, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, ret.Hash)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, []int{1, 2, 3, 4}, fs.completedParts)
}
