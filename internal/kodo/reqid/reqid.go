// Package reqid propagates a caller-chosen request id through a
// context.Context so it can be attached to the X-Reqid header.
package reqid

import "context"

type reqidKey struct{}

// WithReqid returns a context carrying the given request id.
func WithReqid(ctx context.Context, reqid string) context.Context {
	return context.WithValue(ctx, reqidKey{}, reqid)
}

// ReqidFromContext extracts a request id previously stored with WithReqid.
func ReqidFromContext(ctx context.Context) (string, bool) {
	reqid, ok := ctx.Value(reqidKey{}).(string)
	return reqid, ok
}
