// Package isolate runs black-box evaluation functions in disposable worker
// processes (or containers) so that a hung or crashing evaluation can be
// bounded in time, killed and retried without touching the caller's state.
//
// The coordinator side is Executor: one worker per attempt, each with its own
// one-shot result channel, waited on for at most Timeout. The worker side is
// Serve, which runs a registered Func and writes exactly one envelope.
package isolate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/signalnine/autoprep/internal/metrics"
)

// ErrTimeout is wrapped by Outcome.Err when every attempt timed out.
var ErrTimeout = errors.New("evaluation timed out")

// AttemptEnv carries the 1-based attempt number into the worker.
const AttemptEnv = "AUTOPREP_WORKER_ATTEMPT"

// Result status and failure values.
const (
	StatusOK   = "ok"
	StatusFail = "fail"

	FailureError   = "error"
	FailureTimeout = "timeout"
)

// Request names a registered function and its JSON arguments.
type Request struct {
	Func string          `json:"func"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Result is the normalized return value of an evaluation. Loss is nil when
// the function reported a non-finite loss.
type Result struct {
	Loss     *float64        `json:"loss"`
	Status   string          `json:"status"`
	Duration float64         `json:"duration"`
	Failure  string          `json:"failure,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload the function returned into v.
func (r Result) Decode(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("result has no payload")
	}
	return json.Unmarshal(r.Payload, v)
}

// RaisedError is an error returned (or panicked) by the function inside the
// worker, or a worker that died without answering.
type RaisedError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *RaisedError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return e.Type + ": " + e.Message
}

// Kind classifies how an isolated call ended.
type Kind string

const (
	KindSuccess Kind = "success"
	KindRaised  Kind = "raised"
	KindTimeout Kind = "timeout"
)

// Outcome is the result of Executor.Run.
type Outcome struct {
	Kind     Kind
	Result   Result
	Err      error
	Attempts int
	Elapsed  time.Duration
}

// Message is what a worker's result channel delivers: the raw envelope bytes,
// empty if the worker exited without writing one.
type Message struct {
	Data []byte
	Err  error
}

// Worker is one running attempt. Result delivers at most one Message and is
// then closed. Kill forcibly stops the worker; Wait releases its resources
// and must be called exactly once, after Result delivered or after Kill.
type Worker interface {
	Result() <-chan Message
	Kill() error
	Wait() error
}

// Spawner starts a fresh worker for one attempt of req.
type Spawner interface {
	Spawn(ctx context.Context, attempt int, req Request) (Worker, error)
}

// Executor runs requests through a Spawner with a per-attempt timeout and a
// bounded number of attempts. Only timeouts are retried: a function that
// raised would raise again.
type Executor struct {
	Spawner     Spawner
	Timeout     time.Duration // per attempt; 0 waits forever
	MaxAttempts int
	Logger      *slog.Logger
}

// Run executes req. The returned error is reserved for orchestration
// failures (spawn errors, context cancellation); evaluation failures are
// reported through the Outcome.
func (e *Executor) Run(ctx context.Context, req Request) (Outcome, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := e.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	start := time.Now()
	for attempt := 1; attempt <= attempts; attempt++ {
		w, err := e.Spawner.Spawn(ctx, attempt, req)
		if err != nil {
			return Outcome{}, fmt.Errorf("spawning worker for %s: %w", req.Func, err)
		}

		var timeout <-chan time.Time
		var timer *time.Timer
		if e.Timeout > 0 {
			timer = time.NewTimer(e.Timeout)
			timeout = timer.C
		}

		select {
		case msg := <-w.Result():
			if timer != nil {
				timer.Stop()
			}
			waitErr := w.Wait()
			out := decode(msg, waitErr)
			out.Attempts = attempt
			out.Elapsed = time.Since(start)
			metrics.WorkerAttempts.WithLabelValues(string(out.Kind)).Inc()
			return out, nil

		case <-timeout:
			logger.Warn("worker timed out, killing",
				"func", req.Func, "attempt", attempt, "max_attempts", attempts, "timeout", e.Timeout)
			if err := w.Kill(); err != nil {
				logger.Warn("killing worker", "error", err)
			}
			w.Wait()
			metrics.WorkerAttempts.WithLabelValues(string(KindTimeout)).Inc()

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.Kill()
			w.Wait()
			return Outcome{}, ctx.Err()
		}
	}

	return Outcome{
		Kind:     KindTimeout,
		Result:   Result{Status: StatusFail, Failure: FailureTimeout, Duration: time.Since(start).Seconds()},
		Err:      fmt.Errorf("%w: %d attempt(s) of %s", ErrTimeout, attempts, e.Timeout),
		Attempts: attempts,
		Elapsed:  time.Since(start),
	}, nil
}

func decode(msg Message, waitErr error) Outcome {
	raised := func(err error) Outcome {
		return Outcome{Kind: KindRaised, Result: Result{Status: StatusFail, Failure: FailureError}, Err: err}
	}
	if msg.Err != nil {
		return raised(&RaisedError{Type: "ChannelError", Message: msg.Err.Error()})
	}
	if len(msg.Data) == 0 {
		detail := "exited"
		if waitErr != nil {
			detail = waitErr.Error()
		}
		return raised(&RaisedError{Type: "WorkerCrash", Message: "worker produced no result: " + detail})
	}

	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return raised(&RaisedError{Type: "ProtocolError", Message: fmt.Sprintf("decoding worker result: %v", err)})
	}
	switch env.Kind {
	case envReturn:
		if env.Result == nil {
			return raised(&RaisedError{Type: "ProtocolError", Message: "return envelope without result"})
		}
		return Outcome{Kind: KindSuccess, Result: *env.Result}
	case envRaise:
		return raised(&RaisedError{Type: env.Type, Message: env.Error})
	}
	return raised(&RaisedError{Type: "ProtocolError", Message: fmt.Sprintf("unknown envelope kind %q", env.Kind)})
}
