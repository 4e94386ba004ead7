package domains

import "fmt"

// URLParseError is returned when a base URL cannot be reduced to a
// host-with-port key, e.g. it is not a valid URL or carries no host.
type URLParseError struct {
	URL string
	Err error
}

func (e *URLParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid url %q: %s", e.URL, e.Err)
	}
	return fmt.Sprintf("invalid url %q", e.URL)
}

func (e *URLParseError) Unwrap() error { return e.Err }

// ResolveError wraps a DNS/transport failure encountered while
// resolving a host-with-port to socket addresses.
type ResolveError struct {
	HostPort string
	Err      error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %s", e.HostPort, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// PersistentError wraps a JSON/IO failure while loading or saving the
// Domains Manager's persisted state. It is never fatal to a request —
// callers that encounter it from Persist() may log and continue.
type PersistentError struct {
	Path string
	Err  error
}

func (e *PersistentError) Error() string {
	return fmt.Sprintf("domains manager persistence (%s): %s", e.Path, e.Err)
}

func (e *PersistentError) Unwrap() error { return e.Err }
