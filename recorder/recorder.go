// Package recorder persists resumable-upload progress to local disk:
// one append-only file per (file path, destination key) pair, so a
// crashed or interrupted upload can pick back up without re-sending
// blocks the server already has.
package recorder

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Metadata is the first line of a record file: everything needed to
// decide whether a resumed upload session still matches the file on
// disk, plus the server-assigned session it should keep completing
// against. UploadID, UpURLs, and CreatedAt are empty/zero for a record
// written before the session was opened (or by a driver that doesn't
// use server-side sessions at all); a reader should treat an empty
// UploadID as "no session to resume, call init_parts."
type Metadata struct {
	FileSize  int64  `json:"fileSize"`
	ModTime   int64  `json:"modTime"`
	BlockSize int64  `json:"blockSize"`
	Key       string `json:"key"`
	UpToken   string `json:"upToken"`

	// UploadID is the upload_id init_parts returned; UpURLs is the
	// zone (host list) that answered it, bound for the life of the
	// session; CreatedAt is when the session was opened, Unix seconds.
	UploadID  string   `json:"uploadId"`
	UpURLs    []string `json:"upUrls"`
	CreatedAt int64    `json:"createdAt"`
}

// BlockItem is one completed block, recorded as soon as the server
// acknowledges it so a resumed session never re-uploads it.
type BlockItem struct {
	PartNumber int    `json:"partNumber"`
	Offset     int64  `json:"offset"`
	Size       int64  `json:"size"`
	Etag       string `json:"etag"`
	MD5        string `json:"md5,omitempty"`
}

// Recorder manages record files under a single base directory.
type Recorder struct {
	dir string
}

// New returns a Recorder rooted at dir, creating it if necessary.
func New(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{dir: dir}, nil
}

// identity derives the record file's base name from the (file path,
// key) pair it belongs to, so the same upload always resumes to the
// same file without needing a lookup table.
func identity(filePath, key string) string {
	h := sha1.New()
	h.Write([]byte(filePath))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Recorder) path(filePath, key string) string {
	return filepath.Join(r.dir, identity(filePath, key)+".record")
}

// Session is an open record file a resumable upload appends completed
// blocks to as they finish. Writes are serialized: multiple worker
// goroutines may hold the same Session concurrently.
type Session struct {
	mu   sync.Mutex
	file *os.File
}

// OpenAndWriteMetadata starts (or restarts) a record file for
// (filePath, key), writing meta as its first line. Any existing
// content is discarded — callers that want to resume must call Load
// first and only call OpenAndWriteMetadata when Load reports no
// usable prior session.
func (r *Recorder) OpenAndWriteMetadata(filePath, key string, meta Metadata) (*Session, error) {
	f, err := os.Create(r.path(filePath, key))
	if err != nil {
		return nil, err
	}
	line, err := json.Marshal(meta)
	if err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return nil, err
	}
	return &Session{file: f}, nil
}

// Append writes one completed block to the session's record file and
// flushes it, so a crash immediately after this call still leaves the
// block durably recorded.
func (s *Session) Append(item BlockItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := json.Marshal(item)
	if err != nil {
		return err
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return err
	}
	return s.file.Sync()
}

// Close releases the underlying file handle without deleting the
// record; the caller calls Drop separately once the upload is
// confirmed complete.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Load reads back a prior session's metadata and completed blocks. A
// malformed or truncated final line (the record file was being
// appended to when the process died mid-write) is silently dropped
// rather than failing the whole load, since everything before it is
// still a valid resume point.
func (r *Recorder) Load(filePath, key string) (Metadata, []BlockItem, bool) {
	f, err := os.Open(r.path(filePath, key))
	if err != nil {
		return Metadata{}, nil, false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return Metadata{}, nil, false
	}
	var meta Metadata
	if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil {
		return Metadata{}, nil, false
	}

	var blocks []BlockItem
	for scanner.Scan() {
		var item BlockItem
		if err := json.Unmarshal(scanner.Bytes(), &item); err != nil {
			break
		}
		blocks = append(blocks, item)
	}
	return meta, blocks, true
}

// Drop removes the record file for (filePath, key), called once an
// upload completes successfully or is abandoned by the caller.
func (r *Recorder) Drop(filePath, key string) error {
	err := os.Remove(r.path(filePath, key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
