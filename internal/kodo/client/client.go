// Package client holds the small pieces of HTTP plumbing that are
// shared between the signing layer and the pipeline: response/error
// body decoding and the default headers every outgoing request carries.
//
// It deliberately does not own request execution or retries anymore —
// that moved to package pipeline, which needs to drive retries across
// many hosts instead of a single *http.Client.Do call.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/xushiwei/kodoupload/internal/kodo/conf"
)

func getUserAgentWithAppName(userApp string) string {
	return fmt.Sprintf("KodoUpload/%s (%s; %s; %s) %s",
		conf.Version, runtime.GOOS, runtime.GOARCH, userApp, runtime.Version())
}

var UserAgent = getUserAgentWithAppName("default")

// -----------------------------------------------------------------------------------------

// ErrorInfo is the decoded shape of a Qiniu-style JSON error body.
type ErrorInfo struct {
	Err   string `json:"error,omitempty"`
	Key   string `json:"key,omitempty"`
	Reqid string `json:"reqid,omitempty"`
	Errno int    `json:"errno,omitempty"`
	Code  int    `json:"code"`
}

func (r *ErrorInfo) Error() string {
	return r.Err
}

func (r *ErrorInfo) ErrorDetail() string {
	msg, _ := json.Marshal(r)
	return string(msg)
}

// ResponseError decodes the body of a non-2xx response into an
// *ErrorInfo without consuming resp.Body beyond what is needed; the
// caller is still responsible for closing resp.Body.
func ResponseError(resp *http.Response) error {
	e := &ErrorInfo{
		Reqid: resp.Header.Get("X-Reqid"),
		Code:  resp.StatusCode,
	}
	if resp.StatusCode <= 299 || resp.Body == nil {
		return e
	}
	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		parseJSONError(e, resp.Body)
	} else {
		bs, err := io.ReadAll(resp.Body)
		if err != nil {
			e.Err = err.Error()
		} else {
			e.Err = strings.TrimRight(string(bs), "\n")
		}
	}
	return e
}

func parseJSONError(e *ErrorInfo, r io.Reader) {
	body, err := io.ReadAll(r)
	if err != nil {
		e.Err = err.Error()
		return
	}
	var ret struct {
		Err   string `json:"error"`
		Key   string `json:"key"`
		Errno int    `json:"errno"`
	}
	if json.Unmarshal(body, &ret) == nil && ret.Err != "" {
		e.Err, e.Key, e.Errno = ret.Err, ret.Key, ret.Errno
		return
	}
	e.Err = string(body)
}

// -----------------------------------------------------------------------------------------

type jsonDecodeError struct {
	original error
	data     []byte
}

func (e jsonDecodeError) Error() string { return fmt.Sprintf("%s: %s", e.original.Error(), e.data) }

func (e jsonDecodeError) Unwrap() error { return e.original }

// DecodeJSONFromReader decodes v from reader, attaching the raw bytes
// read so far to any decode error for debuggability.
func DecodeJSONFromReader(reader io.Reader, v interface{}) error {
	buf := new(bytes.Buffer)
	t := io.TeeReader(reader, buf)
	if err := json.NewDecoder(t).Decode(v); err != nil {
		return jsonDecodeError{original: err, data: buf.Bytes()}
	}
	return nil
}

// -----------------------------------------------------------------------------------------

const RequestHeaderKeyXQiniuDate = "X-Qiniu-Date"

// AddDefaultHeaders sets the headers every outgoing request carries
// (User-Agent, the anti-replay timestamp) unless already present.
func AddDefaultHeaders(headers http.Header) {
	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", UserAgent)
	}
	if !conf.IsDisableQiniuTimestampSignature() {
		headers.Set(RequestHeaderKeyXQiniuDate, time.Now().UTC().Format("20060102T150405Z"))
	}
}
