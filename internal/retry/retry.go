// Package retry wraps fallible RPC operations in a bounded
// exponential-backoff loop. The loop is an explicit state machine:
// attempt counter plus current delay, independent of the transport.
package retry

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Class is the outcome classification of a single attempt.
type Class int

const (
	// Success ends the loop with the attempt's value.
	Success Class = iota
	// RetryNotFound marks data the endpoint has not produced yet, e.g.
	// a block for a slot that is not finalized.
	RetryNotFound
	// RetryRateLimited marks throttling or a transport timeout.
	RetryRateLimited
	// Fatal ends the loop immediately with the attempt's error.
	Fatal
)

// Policy bounds a retried operation. Sleep is injectable for tests;
// nil means time.Sleep.
type Policy struct {
	BaseDelay   time.Duration
	MaxAttempts int
	Sleep       func(time.Duration)
}

func (p Policy) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// state tracks one retried operation. It is created per call to Do and
// discarded when the operation resolves.
type state struct {
	attempt int
	delay   time.Duration
}

// Do invokes op until classify reports Success or Fatal, or the
// attempt budget is spent. The delay doubles after every retried
// attempt, uncapped in size but bounded by MaxAttempts in count. On
// exhaustion Do returns the last observed outcome, so callers can tell
// "gave up after N attempts" from a definitive failure.
func Do[T any](p Policy, name string, op func() (T, error), classify func(T, error) Class) (T, error) {
	st := state{attempt: 1, delay: p.BaseDelay}
	for {
		v, err := op()
		c := classify(v, err)
		if c == Success || c == Fatal {
			return v, err
		}
		if st.attempt >= p.MaxAttempts {
			return v, err
		}
		evt := log.Warn().
			Str("op", name).
			Int("attempt", st.attempt).
			Int("max_attempts", p.MaxAttempts).
			Dur("delay", st.delay)
		if c == RetryNotFound {
			evt.Msg("result not available yet, retrying")
		} else {
			evt.Err(err).Msg("rate limited or timed out, retrying")
		}
		p.sleep(st.delay)
		st.attempt++
		st.delay *= 2
	}
}

// ClassifyErr classifies an error the way the RPC endpoints signal
// throttling: HTTP 429 or a JSON-RPC code 429 (both render "429" in
// the message), explicit rate-limit wording, or a timeout. Everything
// else is fatal.
func ClassifyErr(err error) Class {
	if err == nil {
		return Success
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return RetryRateLimited
	}
	msg := err.Error()
	if strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "timeout") {
		return RetryRateLimited
	}
	return Fatal
}
