package fetch

import (
	"errors"
	"time"

	"github.com/sentinelpulse/sentinelpulse/pkg/score"
	"github.com/sentinelpulse/sentinelpulse/pkg/types"
)

// Sentinel errors carried in Outcome.Err.
var (
	ErrCircuitOpen  = errors.New("fetch: circuit open")
	ErrServerStatus = errors.New("fetch: upstream server error")
	ErrClientStatus = errors.New("fetch: upstream client error")
	ErrCancelled    = errors.New("fetch: cancelled")

	// ErrUnexpectedStatus covers 1xx and 3xx final responses, e.g. a
	// redirect the client did not follow.
	ErrUnexpectedStatus = errors.New("fetch: unexpected upstream status")
)

// Kind classifies how a fetch ended.
type Kind int

const (
	KindOK Kind = iota
	KindClientError
	KindServerError
	KindTransport
	KindTimeout
	KindCircuitOpen
	KindCancelled
	KindUnexpectedStatus
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindClientError:
		return "client_error"
	case KindServerError:
		return "server_error"
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindCircuitOpen:
		return "circuit_open"
	case KindCancelled:
		return "cancelled"
	case KindUnexpectedStatus:
		return "unexpected_status"
	default:
		return "unknown"
	}
}

// countsAsFailure reports whether k advances the breaker's failure streak.
func (k Kind) countsAsFailure() bool {
	return k == KindServerError || k == KindTransport || k == KindTimeout
}

// Telemetry holds real process figures parsed from a prometheus target.
// A nil field means the exposition did not provide enough data.
type Telemetry struct {
	CPUPct *float64
	MemPct *float64
}

// Outcome is the result of one Fetch call.
type Outcome struct {
	Target     string
	Kind       Kind
	StatusCode int // 0 when no response was received
	BodyBytes  int64
	Elapsed    time.Duration
	Attempts   int
	Err        error

	// Body is set only when the fetcher keeps bodies (WithBodyLimit) and
	// the final attempt returned 2xx.
	Body []byte

	Telemetry *Telemetry
}

// OK reports whether the fetch ended with a 2xx response.
func (o Outcome) OK() bool { return o.Kind == KindOK }

// ScoreInput converts o into the scorer's input.
func (o Outcome) ScoreInput() score.Input {
	in := score.Input{
		StatusCode: o.StatusCode,
		BodyBytes:  o.BodyBytes,
		LatencyMs:  float64(o.Elapsed) / float64(time.Millisecond),
	}
	switch o.Kind {
	case KindOK:
		in.Class = score.ClassSuccess
	case KindClientError:
		in.Class = score.ClassClientError
	default:
		in.Class = score.ClassFailure
	}
	if o.Telemetry != nil {
		in.CPUPct = o.Telemetry.CPUPct
		in.MemPct = o.Telemetry.MemPct
	}
	return in
}

// Metric scores o with p.
func (o Outcome) Metric(p score.Policy) types.Metric {
	return p.Score(o.Target, o.ScoreInput())
}
