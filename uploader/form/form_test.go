package form

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xushiwei/kodoupload/domains"
	"github.com/xushiwei/kodoupload/pipeline"
)

func TestPutSendsKeyTokenAndCRC(t *testing.T) {
	var gotKey, gotToken, gotCRC string
	var gotFile []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			switch part.FormName() {
			case "key":
				b, _ := io.ReadAll(part)
				gotKey = string(b)
			case "token":
				b, _ := io.ReadAll(part)
				gotToken = string(b)
			case "crc32":
				b, _ := io.ReadAll(part)
				gotCRC = string(b)
			case "file":
				b, _ := io.ReadAll(part)
				gotFile = b
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"key":"greeting.txt","hash":"abc123"}`))
	}))
	defer srv.Close()

	manager := domains.NewBuilder().DisablePersistence().DisableAutoPersistent().
		DisableRefreshResolutions().DisableURLResolution().Build()
	client := pipeline.NewClient(manager)
	u := NewUploader(client, [][]string{{srv.URL}})

	content := "hello, world"
	ret, err := u.Put(context.Background(), "policy:sig", "greeting.txt", func() (io.Reader, error) {
		return strings.NewReader(content), nil
	}, int64(len(content)), &Extra{CheckCRC32: true})
	require.NoError(t, err)

	assert.Equal(t, "greeting.txt", gotKey)
	assert.Equal(t, "policy:sig", gotToken)
	assert.Equal(t, content, string(gotFile))
	assert.NotEmpty(t, gotCRC)
	assert.Equal(t, "greeting.txt", ret.Key)
	assert.Equal(t, "abc123", ret.Hash)
}
