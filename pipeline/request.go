package pipeline

import (
	"io"
	"net/http"

	"github.com/xushiwei/kodoupload/internal/kodo/auth"
)

// TokenPolicy selects how (and whether) a request is signed
// immediately before each attempt — signing happens per attempt, not
// once up front, since each attempt may target a different base URL
// (the Qiniu v2 signature covers the Host header) and carries a fresh
// X-Qiniu-Date header.
type TokenPolicy int

const (
	// TokenNone sends the request unsigned.
	TokenNone TokenPolicy = iota
	// TokenUpload attaches a caller-supplied "UpToken <policy.sig>"
	// header; the pipeline never computes this signature itself.
	TokenUpload
	// TokenQBox has the pipeline sign the request with Credentials
	// using the QBox management-token algorithm.
	TokenQBox
	// TokenQiniu has the pipeline sign the request with Credentials
	// using the newer Qiniu (v2) management-token algorithm.
	TokenQiniu
)

// Request describes one logical call the pipeline should make,
// including every zone/host it is allowed to escalate across.
type Request struct {
	Method string
	// Zones is the ordered list of candidate base-URL lists: the
	// pipeline tries every host in Zones[0] before moving on to
	// Zones[1], and so on.
	Zones [][]string
	Path  string
	Query string
	Header http.Header

	// GetBody returns a fresh, unread copy of the request body each
	// time it is called, so the same body can be replayed across
	// retries and across hosts.
	GetBody func() (io.ReadCloser, error)
	// ContentLength is passed through to http.Request.ContentLength
	// when GetBody is set; -1 when unknown.
	ContentLength int64

	Token       TokenPolicy
	Credentials *auth.Credentials
	UploadToken string

	// Idempotent marks a non-GET request as safe to retry verbatim,
	// overriding the default "POST is never Retryable" escalation.
	Idempotent bool

	// Retries bounds how many times the same resolved address may be
	// retried for a Retryable outcome before moving to the next
	// address. Zero means "use the Client's default" (see
	// WithDefaultRetries).
	Retries int
}

// Response is the outcome of a successful attempt (2xx): status,
// headers, and the fully-read body, so callers never have to manage
// resp.Body lifetime themselves.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte

	// ZoneIndex and BaseURL identify which zone/host answered,
	// letting a multi-call session (e.g. resumable upload's
	// init_parts/upload_part/complete_parts sequence) pin subsequent
	// calls to the same zone instead of re-escalating from scratch
	// each time.
	ZoneIndex int
	BaseURL   string
}
