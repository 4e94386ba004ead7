package pipeline

import "github.com/rs/zerolog"

// Observer is notified of pipeline decisions as a request escalates,
// letting a caller surface retry/failover behavior in its own metrics
// or logs without the pipeline depending on any particular backend.
type Observer interface {
	OnAttempt(baseURL, target string, attempt int)
	OnRetry(baseURL string, kind RetryKind, err error)
	OnHostFrozen(baseURL string)
	OnZoneAbandoned(zoneIndex int, err error)
}

// zerologObserver is the default Observer, logging every escalation
// decision at a level proportional to its severity.
type zerologObserver struct {
	log zerolog.Logger
}

// NewZerologObserver builds the default Observer used when a Client
// is constructed without one.
func NewZerologObserver(log zerolog.Logger) Observer {
	return &zerologObserver{log: log}
}

func (o *zerologObserver) OnAttempt(baseURL, target string, attempt int) {
	o.log.Debug().Str("base_url", baseURL).Str("target", target).Int("attempt", attempt).Msg("pipeline: attempt")
}

func (o *zerologObserver) OnRetry(baseURL string, kind RetryKind, err error) {
	o.log.Warn().Str("base_url", baseURL).Str("kind", kind.String()).Err(err).Msg("pipeline: retrying")
}

func (o *zerologObserver) OnHostFrozen(baseURL string) {
	o.log.Warn().Str("base_url", baseURL).Msg("pipeline: host frozen")
}

func (o *zerologObserver) OnZoneAbandoned(zoneIndex int, err error) {
	o.log.Warn().Int("zone", zoneIndex).Err(err).Msg("pipeline: zone abandoned")
}

// noopObserver discards every notification; useful for tests that
// don't want log noise.
type noopObserver struct{}

func (noopObserver) OnAttempt(string, string, int)          {}
func (noopObserver) OnRetry(string, RetryKind, error)        {}
func (noopObserver) OnHostFrozen(string)                     {}
func (noopObserver) OnZoneAbandoned(int, error)              {}

// NoopObserver returns an Observer that does nothing.
func NoopObserver() Observer { return noopObserver{} }
