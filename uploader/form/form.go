// Package form implements the single-shot multipart upload driver:
// the whole file goes up in one POST, optionally with a trailing CRC32
// field the server verifies against what it received.
package form

import (
	"bytes"
	"context"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/xushiwei/kodoupload/internal/kodo/client"
	"github.com/xushiwei/kodoupload/pipeline"
	"github.com/xushiwei/kodoupload/uploadresult"
)

// Extra carries the optional form fields a caller can attach to an
// upload alongside the file itself.
type Extra struct {
	// Params are custom variables the put policy allows
	// (x:foo-style fields); sent verbatim.
	Params map[string]string
	// MimeType overrides the file field's declared content type.
	MimeType string
	// CheckCRC32, when true, computes and appends a crc32 field the
	// server checks against the bytes it actually received.
	CheckCRC32 bool
}

// Opener returns a fresh reader over the file content each time it is
// called, so the driver can rebuild the multipart body identically
// across retries and host failovers.
type Opener func() (io.Reader, error)

// Uploader performs single-shot uploads across the given zones.
type Uploader struct {
	client *pipeline.Client
	zones  [][]string
}

// NewUploader builds an Uploader that escalates across zones (each an
// ordered host list) via client.
func NewUploader(c *pipeline.Client, zones [][]string) *Uploader {
	return &Uploader{client: c, zones: zones}
}

// Put uploads size bytes from open under key, authorized by
// uploadToken (a caller-presigned "policy:signature" pair, without
// the "UpToken " prefix). The request is marked idempotent: the form
// driver always resends the complete, identical body, so a retried
// POST is safe.
func (u *Uploader) Put(ctx context.Context, uploadToken, key string, open Opener, size int64, extra *Extra) (*uploadresult.PutRet, error) {
	if extra == nil {
		extra = &Extra{}
	}

	body, contentType, err := buildMultipartBody(uploadToken, key, open, size, extra)
	if err != nil {
		return nil, fmt.Errorf("form: build request body: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", contentType)

	resp, err := u.client.Do(ctx, &pipeline.Request{
		Method: http.MethodPost,
		Zones:  u.zones,
		Path:   "/",
		Header: header,
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
		ContentLength: int64(len(body)),
		Token:         pipeline.TokenNone,
		Idempotent:    true,
	})
	if err != nil {
		return nil, err
	}

	var ret uploadresult.PutRet
	if err := client.DecodeJSONFromReader(bytes.NewReader(resp.Body), &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

// buildMultipartBody writes the key, token, custom params, file
// content, and (if requested) a trailing crc32 field into a single
// in-memory multipart body. The whole body is buffered rather than
// streamed: form uploads only handle files below the resumable
// threshold, so the memory cost is bounded.
func buildMultipartBody(uploadToken, key string, open Opener, size int64, extra *Extra) ([]byte, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	if key != "" {
		if err := w.WriteField("key", key); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("token", uploadToken); err != nil {
		return nil, "", err
	}
	for k, v := range extra.Params {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	r, err := open()
	if err != nil {
		return nil, "", err
	}

	fileHeader := make(map[string][]string)
	fileHeader["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, fileNameFor(key))}
	contentType := extra.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	fileHeader["Content-Type"] = []string{contentType}

	part, err := w.CreatePart(fileHeader)
	if err != nil {
		return nil, "", err
	}

	var crc hash.Hash32
	dst := io.Writer(part)
	if extra.CheckCRC32 {
		crc = crc32.NewIEEE()
		dst = io.MultiWriter(part, crc)
	}
	if _, err := io.Copy(dst, r); err != nil {
		return nil, "", err
	}

	if extra.CheckCRC32 {
		if err := w.WriteField("crc32", fmt.Sprintf("%d", crc.Sum32())); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func fileNameFor(key string) string {
	if key == "" {
		return "file"
	}
	return key
}
