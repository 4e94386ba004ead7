// Package pipeline drives one logical HTTP call across every zone and
// host a caller is willing to escalate to, classifying each outcome
// via RetryKind and consulting the Domains Manager for host health
// and DNS resolution at every step.
package pipeline

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xushiwei/kodoupload/domains"
	"github.com/xushiwei/kodoupload/internal/kodo/api"
	"github.com/xushiwei/kodoupload/internal/kodo/auth"
	"github.com/xushiwei/kodoupload/internal/kodo/client"
	"github.com/xushiwei/kodoupload/internal/kodo/reqid"
)

// Client executes Requests, consulting a domains.Manager for host
// health/resolution and escalating across zones/hosts per RetryKind.
type Client struct {
	manager    *domains.Manager
	httpClient *http.Client
	observer   Observer
	log        zerolog.Logger

	transportsMu sync.Mutex
	transports   map[netip.Addr]*http.Transport

	defaultRetries int
	useHTTPS       bool
}

// Option configures a Client at construction time.
type Option func(*Client)

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDefaultRetries sets the per-host retry budget applied to
// Requests that don't set Retries explicitly.
func WithDefaultRetries(n int) Option {
	return func(c *Client) { c.defaultRetries = n }
}

func WithHTTPS(useHTTPS bool) Option {
	return func(c *Client) { c.useHTTPS = useHTTPS }
}

// NewClient builds a Client backed by manager for host health and
// resolution.
func NewClient(manager *domains.Manager, opts ...Option) *Client {
	c := &Client{
		manager:        manager,
		httpClient:     &http.Client{Timeout: 5 * time.Minute, CheckRedirect: DisableRedirects},
		log:            zerolog.Nop(),
		transports:     make(map[netip.Addr]*http.Transport),
		defaultRetries: 2,
		useHTTPS:       true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.observer == nil {
		c.observer = NewZerologObserver(c.log)
	}
	return c
}

// transportFor returns (creating and caching if necessary) the
// *http.Transport that dials addr directly, bypassing whatever DNS
// resolution net/http would otherwise perform for the request's Host
// header — the Domains Manager already did that resolution.
func (c *Client) transportFor(addr netip.Addr) *http.Transport {
	c.transportsMu.Lock()
	defer c.transportsMu.Unlock()
	if t, ok := c.transports[addr]; ok {
		return t
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	t := &http.Transport{
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			_, port, err := net.SplitHostPort(address)
			if err != nil {
				port = "443"
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(addr.String(), port))
		},
		TLSClientConfig:     &tls.Config{},
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	c.transports[addr] = t
	return t
}

// httpClientFor returns an *http.Client sharing c.httpClient's timeout
// and jar but dialing the given resolved address, or c.httpClient
// itself when target carries no forced address (resolution disabled
// or exhausted).
func (c *Client) httpClientFor(addr netip.Addr, ok bool) *http.Client {
	if !ok {
		return c.httpClient
	}
	clone := *c.httpClient
	clone.Transport = c.transportFor(addr)
	return &clone
}

// target is one concrete thing to dial: a base URL, optionally pinned
// to a resolved address.
type target struct {
	baseURL string
	addr    netip.Addr
	hasAddr bool
}

func targetsFor(choice domains.Choice) []target {
	if len(choice.Addrs) == 0 {
		return []target{{baseURL: choice.BaseURL}}
	}
	ts := make([]target, len(choice.Addrs))
	for i, a := range choice.Addrs {
		ts[i] = target{baseURL: choice.BaseURL, addr: a, hasAddr: true}
	}
	return ts
}

// ErrAllZonesExhausted is returned when every zone's every host was
// tried (or frozen/abandoned) without success.
var ErrAllZonesExhausted = errors.New("pipeline: all zones exhausted")

// newReqid generates the X-Reqid a Do call attaches to every attempt
// it makes, so every retry/escalation for one logical call can be
// correlated server-side even though they land on different hosts.
func newReqid() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Do executes req, escalating across zones and hosts as classified
// retry outcomes dictate, and returns the first successful response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if _, ok := reqid.ReqidFromContext(ctx); !ok {
		ctx = reqid.WithReqid(ctx, newReqid())
	}

	retries := req.Retries
	if retries == 0 {
		retries = c.defaultRetries
	}

	var lastErr error
	for zoneIdx, zone := range req.Zones {
		choices, err := c.manager.Choose(zone)
		if err != nil || len(choices) == 0 {
			continue
		}

		zoneAbandoned := false
		for _, choice := range choices {
			for _, t := range targetsFor(choice) {
				resp, attemptErr, kind := c.tryTarget(ctx, req, t, retries)
				if attemptErr == nil {
					resp.ZoneIndex = zoneIdx
					resp.BaseURL = choice.BaseURL
					return resp, nil
				}
				lastErr = attemptErr

				switch kind {
				case HostUnretryable:
					c.manager.FreezeURL(choice.BaseURL)
					c.observer.OnHostFrozen(choice.BaseURL)
				case ZoneUnretryable:
					zoneAbandoned = true
				case Unretryable:
					return nil, attemptErr
				}
				if zoneAbandoned {
					break
				}
			}
			if zoneAbandoned {
				break
			}
		}
		if zoneAbandoned {
			c.observer.OnZoneAbandoned(zoneIdx, lastErr)
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllZonesExhausted, lastErr)
	}
	return nil, ErrAllZonesExhausted
}

// tryTarget runs the retry loop for a single resolved address (or
// unresolved base URL), returning the final classification so Do can
// decide whether to move to the next host or zone.
func (c *Client) tryTarget(ctx context.Context, req *Request, t target, retries int) (*Response, error, RetryKind) {
	var lastErr error
	var lastKind RetryKind

	for attempt := 0; attempt <= retries; attempt++ {
		c.observer.OnAttempt(t.baseURL, targetLabel(t), attempt)

		resp, body, httpResp, transportErr := c.doOnce(ctx, req, t)
		if transportErr == nil && httpResp.StatusCode < 300 {
			return resp, nil, Retryable
		}

		kind := ClassifyHTTPError(httpResp, body, transportErr)
		if kind == Retryable && req.Method == http.MethodPost && !req.Idempotent {
			kind = HostUnretryable
		}

		var err error
		switch {
		case transportErr != nil:
			err = transportErr
		case kind == ZoneUnretryable:
			// A region mismatch is a typed, matchable condition rather
			// than a generic decoded error body, so callers that want
			// to react to it (skip straight to a different zone list
			// of their own, surface a distinct message) can type-assert
			// for it instead of substring-matching the error text.
			err = api.NewError("IncorrectRegion", strings.TrimSpace(string(body)))
		default:
			// doOnce has already read and closed the body; hand
			// ResponseError the bytes it read.
			httpResp.Body = io.NopCloser(strings.NewReader(string(body)))
			err = client.ResponseError(httpResp)
		}
		lastErr, lastKind = err, kind

		if kind != Retryable {
			return nil, err, kind
		}
		c.observer.OnRetry(t.baseURL, kind, err)
	}
	return nil, lastErr, lastKind
}

func targetLabel(t target) string {
	if t.hasAddr {
		return t.addr.String()
	}
	return t.baseURL
}

// doOnce performs exactly one HTTP round trip against t, signing the
// request immediately beforehand per req.Token.
func (c *Client) doOnce(ctx context.Context, req *Request, t target) (*Response, []byte, *http.Response, error) {
	httpReq, err := c.buildRequest(ctx, req, t)
	if err != nil {
		return nil, nil, nil, err
	}

	hc := c.httpClientFor(t.addr, t.hasAddr)
	httpResp, err := hc.Do(httpReq)
	if err != nil {
		return nil, nil, nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, nil, httpResp, err
	}
	if httpResp.StatusCode >= 300 {
		return nil, body, httpResp, nil
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}, body, httpResp, nil
}

func (c *Client) buildRequest(ctx context.Context, req *Request, t target) (*http.Request, error) {
	url := req.Path
	fullURL := t.baseURL + url
	if req.Query != "" {
		fullURL += "?" + req.Query
	}

	var bodyReader io.ReadCloser
	if req.GetBody != nil {
		r, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		bodyReader = r
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bodyReader)
	if err != nil {
		return nil, err
	}
	if req.GetBody != nil {
		httpReq.ContentLength = req.ContentLength
		httpReq.GetBody = func() (io.ReadCloser, error) { return req.GetBody() }
	}
	if req.Header != nil {
		httpReq.Header = req.Header.Clone()
	}
	client.AddDefaultHeaders(httpReq.Header)
	if id, ok := reqid.ReqidFromContext(ctx); ok {
		httpReq.Header.Set("X-Reqid", id)
	}

	switch req.Token {
	case TokenUpload:
		httpReq.Header.Set("Authorization", "UpToken "+req.UploadToken)
	case TokenQBox:
		if req.Credentials == nil {
			return nil, errors.New("pipeline: TokenQBox requires Credentials")
		}
		if err := req.Credentials.AddToken(auth.TokenQBox, httpReq); err != nil {
			return nil, err
		}
	case TokenQiniu:
		if req.Credentials == nil {
			return nil, errors.New("pipeline: TokenQiniu requires Credentials")
		}
		if err := req.Credentials.AddToken(auth.TokenQiniu, httpReq); err != nil {
			return nil, err
		}
	}
	return httpReq, nil
}

// DisableRedirects, the default CheckRedirect, disallows following
// redirects: the Domains
// Manager, not net/http, decides which host to try next.
func DisableRedirects(req *http.Request, via []*http.Request) error {
	return http.ErrUseLastResponse
}
