// Package resumable implements the resumable upload driver: a file is
// split into fixed-size blocks, each uploaded independently (and in
// parallel, up to a worker limit) as one part of a server-side upload
// session opened by init_parts and closed by complete_parts, with
// progress recorded to local disk so an interrupted upload can
// continue without resending completed parts.
package resumable

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xushiwei/kodoupload/internal/kodo/client"
	"github.com/xushiwei/kodoupload/pipeline"
	"github.com/xushiwei/kodoupload/recorder"
	"github.com/xushiwei/kodoupload/uploadresult"
)

// defaultSessionTTL bounds how long a recorded upload_id is trusted
// before a resume attempt starts a fresh session instead: a record
// older than this is treated as dead rather than risking a 4xx against
// an upload_id the server has long since forgotten.
const defaultSessionTTL = 7 * 24 * time.Hour

// Extra mirrors the resumable-specific put options a caller may set.
type Extra struct {
	MimeType string
	Params   map[string]string
	// Checksum, when true, sends a Content-MD5 header with each part
	// so the server can verify what it received.
	Checksum bool
}

// Uploader drives resumable uploads of one bucket's objects across the
// given zones.
type Uploader struct {
	client      *pipeline.Client
	bucket      string
	zones       [][]string
	recorder    *recorder.Recorder
	blockSize   int64
	concurrency int
	sessionTTL  time.Duration
}

// NewUploader builds an Uploader. A non-positive blockSize falls back
// to 4 MiB and a non-positive concurrency to 1; concurrency bounds how
// many parts are in flight to the server at once.
func NewUploader(c *pipeline.Client, bucket string, zones [][]string, rec *recorder.Recorder, blockSize int64, concurrency int) *Uploader {
	if blockSize <= 0 {
		blockSize = 4 << 20
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Uploader{
		client:      c,
		bucket:      bucket,
		zones:       zones,
		recorder:    rec,
		blockSize:   blockSize,
		concurrency: concurrency,
		sessionTTL:  defaultSessionTTL,
	}
}

// completedBlock is one part this process (or a prior one, recovered
// from the recorder) has already gotten an etag for.
type completedBlock struct {
	PartNumber int
	Etag       string
}

// Put uploads size bytes read from src (seekable so a resumed session
// can skip straight past already-completed parts) under key, authorized
// by uploadToken, recording progress at filePath/key under u.recorder
// as it goes. modTime should be the source file's modification time in
// the caller's chosen unit (e.g. Unix seconds); it is only ever
// compared for equality, to detect that a record file belongs to a
// since-replaced file.
func (u *Uploader) Put(ctx context.Context, uploadToken, filePath, key string, src io.ReadSeeker, size, modTime int64, extra *Extra) (*uploadresult.PutRet, error) {
	if extra == nil {
		extra = &Extra{}
	}

	done, uploadID, upURLs, createdAt := u.loadResumableSession(filePath, key, uploadToken, size, modTime)

	pinned := newZonePin(u.zones)

	if uploadID == "" {
		id, urls, err := u.initParts(ctx, pinned, uploadToken, key)
		if err != nil {
			return nil, fmt.Errorf("resumable: init parts: %w", err)
		}
		uploadID, upURLs, createdAt = id, urls, time.Now().Unix()
		done = nil
	} else {
		pinned.pinTo(upURLs)
	}

	sess, err := u.recorder.OpenAndWriteMetadata(filePath, key, recorder.Metadata{
		FileSize: size, ModTime: modTime, BlockSize: u.blockSize, Key: key, UpToken: uploadToken,
		UploadID: uploadID, UpURLs: upURLs, CreatedAt: createdAt,
	})
	if err != nil {
		return nil, fmt.Errorf("resumable: open record: %w", err)
	}
	// Re-append everything already on record so the new metadata
	// header doesn't orphan parts a prior process already finished.
	for _, b := range done {
		_ = sess.Append(recorder.BlockItem{PartNumber: b.PartNumber, Etag: b.Etag})
	}

	plans := planBlocks(size, u.blockSize)
	startIdx := len(done)
	startOffset := size
	if startIdx < len(plans) {
		startOffset = plans[startIdx].Offset
	}
	if _, err := src.Seek(startOffset, io.SeekStart); err != nil {
		sess.Close()
		return nil, fmt.Errorf("resumable: seek to resume point: %w", err)
	}

	newBlocks, err := u.uploadRemaining(ctx, src, plans, startIdx, uploadToken, key, uploadID, pinned, sess, extra)
	sess.Close()
	if err != nil {
		return nil, err
	}

	all := append(done, newBlocks...)
	sort.Slice(all, func(i, j int) bool { return all[i].PartNumber < all[j].PartNumber })

	ret, err := u.completeParts(ctx, pinned, uploadToken, key, uploadID, extra, all)
	if err != nil {
		return nil, err
	}
	_ = u.recorder.Drop(filePath, key)
	return ret, nil
}

// loadResumableSession returns the previously-completed parts and the
// upload_id/up_urls/creation_time to resume against, if the record on
// disk still matches this exact upload (same file size, mod time,
// block size, and token) and carries an upload_id no older than
// sessionTTL. Any mismatch, or a record with no upload_id at all (an
// older record format, or one abandoned before init_parts completed),
// means the caller must start a fresh session via init_parts.
func (u *Uploader) loadResumableSession(filePath, key, uploadToken string, size, modTime int64) (done []completedBlock, uploadID string, upURLs []string, createdAt int64) {
	meta, blocks, ok := u.recorder.Load(filePath, key)
	if !ok || meta.FileSize != size || meta.ModTime != modTime || meta.BlockSize != u.blockSize || meta.UpToken != uploadToken {
		return nil, "", nil, 0
	}
	if meta.UploadID == "" {
		return nil, "", nil, 0
	}
	if u.sessionTTL > 0 && time.Since(time.Unix(meta.CreatedAt, 0)) > u.sessionTTL {
		return nil, "", nil, 0
	}
	out := make([]completedBlock, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, completedBlock{PartNumber: b.PartNumber, Etag: b.Etag})
	}
	return out, meta.UploadID, meta.UpURLs, meta.CreatedAt
}

// uploadRemaining drives the worker pool that reads blocks from src via
// a shared blockSource and PUTs each as one part, pinning every call
// after the first successful one to the zone that answered it.
func (u *Uploader) uploadRemaining(ctx context.Context, src io.Reader, plans []blockPlan, startIdx int, uploadToken, key, uploadID string, pinned *zonePin, sess *recorder.Session, extra *Extra) ([]completedBlock, error) {
	source := newBlockSource(src, plans, startIdx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	results := make(chan completedBlock, u.concurrency)
	done := make(chan struct{})
	var collected []completedBlock
	go func() {
		for b := range results {
			collected = append(collected, b)
		}
		close(done)
	}()

	for {
		plan, data, err := source.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			close(results)
			<-done
			return nil, fmt.Errorf("resumable: read block: %w", err)
		}
		g.Go(func() error {
			etag, err := u.uploadPart(gctx, pinned, uploadToken, key, uploadID, plan, data, extra)
			if err != nil {
				return err
			}
			if err := sess.Append(recorder.BlockItem{PartNumber: plan.PartNumber, Offset: plan.Offset, Size: plan.Size, Etag: etag}); err != nil {
				return err
			}
			results <- completedBlock{PartNumber: plan.PartNumber, Etag: etag}
			return nil
		})
	}

	err := g.Wait()
	close(results)
	<-done
	if err != nil {
		return nil, err
	}
	return collected, nil
}

// keySegment renders key the way the uploads path expects: base64url,
// or "~" for an unset key (letting the server assign one).
func keySegment(key string) string {
	if key == "" {
		return "~"
	}
	return base64.URLEncoding.EncodeToString([]byte(key))
}

func uploadsPath(bucket, key string) string {
	return fmt.Sprintf("/buckets/%s/objects/%s/uploads", bucket, keySegment(key))
}

// initParts opens a new upload session, pinning pinned to whichever
// zone answers it: every later part/complete call in the session stays
// on that zone.
func (u *Uploader) initParts(ctx context.Context, pinned *zonePin, uploadToken, key string) (uploadID string, upURLs []string, err error) {
	resp, err := u.client.Do(ctx, &pipeline.Request{
		Method:      http.MethodPost,
		Zones:       pinned.zones(),
		Path:        uploadsPath(u.bucket, key),
		Token:       pipeline.TokenUpload,
		UploadToken: uploadToken,
	})
	if err != nil {
		return "", nil, err
	}
	pinned.pin(resp.ZoneIndex)

	var initResp struct {
		UploadID string `json:"uploadId"`
	}
	if err := client.DecodeJSONFromReader(bytes.NewReader(resp.Body), &initResp); err != nil {
		return "", nil, fmt.Errorf("decode init response: %w", err)
	}
	return initResp.UploadID, u.zones[resp.ZoneIndex], nil
}

// uploadPart PUTs one block's full content as part plan.PartNumber of
// uploadID, returning the etag the server assigned it.
func (u *Uploader) uploadPart(ctx context.Context, pinned *zonePin, uploadToken, key, uploadID string, plan blockPlan, data []byte, extra *Extra) (string, error) {
	header := http.Header{"Content-Type": []string{"application/octet-stream"}}
	if extra.Checksum {
		sum := md5.Sum(data)
		header.Set("Content-MD5", hex.EncodeToString(sum[:]))
	}

	resp, err := u.client.Do(ctx, &pipeline.Request{
		Method: http.MethodPut,
		Zones:  pinned.zones(),
		Path:   fmt.Sprintf("%s/%s/%d", uploadsPath(u.bucket, key), uploadID, plan.PartNumber),
		Header: header,
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
		ContentLength: int64(len(data)),
		Token:         pipeline.TokenUpload,
		UploadToken:   uploadToken,
		Idempotent:    true,
	})
	if err != nil {
		return "", fmt.Errorf("resumable: upload part %d: %w", plan.PartNumber, err)
	}
	pinned.pin(resp.ZoneIndex)

	var partResp struct {
		Etag string `json:"etag"`
	}
	if err := client.DecodeJSONFromReader(bytes.NewReader(resp.Body), &partResp); err != nil {
		return "", fmt.Errorf("resumable: decode part response: %w", err)
	}
	return partResp.Etag, nil
}

// completePart is one entry of complete_parts' JSON parts array.
type completePart struct {
	Etag       string `json:"etag"`
	PartNumber int    `json:"partNumber"`
}

type completePartsBody struct {
	Parts      []completePart    `json:"parts"`
	MimeType   string            `json:"mimeType,omitempty"`
	CustomVars map[string]string `json:"customVars,omitempty"`
}

// completeParts closes uploadID, submitting every part's etag in
// strictly increasing part-number order.
func (u *Uploader) completeParts(ctx context.Context, pinned *zonePin, uploadToken, key, uploadID string, extra *Extra, blocks []completedBlock) (*uploadresult.PutRet, error) {
	parts := make([]completePart, len(blocks))
	for i, b := range blocks {
		parts[i] = completePart{Etag: b.Etag, PartNumber: b.PartNumber}
	}
	body, err := json.Marshal(completePartsBody{Parts: parts, MimeType: extra.MimeType, CustomVars: extra.Params})
	if err != nil {
		return nil, err
	}

	resp, err := u.client.Do(ctx, &pipeline.Request{
		Method: http.MethodPost,
		Zones:  pinned.zones(),
		Path:   fmt.Sprintf("%s/%s", uploadsPath(u.bucket, key), uploadID),
		Header: http.Header{"Content-Type": []string{"application/json"}},
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		},
		ContentLength: int64(len(body)),
		Token:         pipeline.TokenUpload,
		UploadToken:   uploadToken,
		Idempotent:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("resumable: complete parts: %w", err)
	}

	var ret uploadresult.PutRet
	if err := json.Unmarshal(resp.Body, &ret); err != nil {
		return nil, fmt.Errorf("resumable: decode complete response: %w", err)
	}
	return &ret, nil
}
