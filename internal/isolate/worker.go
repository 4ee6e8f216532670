package isolate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"strconv"
	"time"
)

// Func is a function a worker can run. It returns a number (the loss), a
// Result, or a JSON object carrying a numeric "loss" and optionally "status"
// and "duration".
type Func func(ctx context.Context, args json.RawMessage) (any, error)

// Registry maps function names to the functions a worker will serve.
type Registry map[string]Func

const (
	envReturn = "return"
	envRaise  = "raise"
)

type envelope struct {
	Kind   string  `json:"kind"`
	Result *Result `json:"result,omitempty"`
	Type   string  `json:"type,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Attempt returns the attempt number the worker was spawned for, 0 outside a
// worker.
func Attempt() int {
	n, _ := strconv.Atoi(os.Getenv(AttemptEnv))
	return n
}

// Serve reads one Request from in, runs the registered function and writes
// one envelope to out. Errors returned by the function, panics and malformed
// results are reported to the coordinator as raised errors; Serve itself
// fails only when the request cannot be read or the envelope cannot be
// written.
func Serve(ctx context.Context, reg Registry, in io.Reader, out io.Writer) error {
	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("reading request: %w", err)
	}

	env := call(ctx, reg, req)
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

func call(ctx context.Context, reg Registry, req Request) (env envelope) {
	fn, ok := reg[req.Func]
	if !ok {
		return envelope{Kind: envRaise, Type: "LookupError", Error: fmt.Sprintf("function %q is not registered", req.Func)}
	}

	defer func() {
		if r := recover(); r != nil {
			env = envelope{Kind: envRaise, Type: "Panic", Error: fmt.Sprint(r)}
		}
	}()

	start := time.Now()
	v, err := fn(ctx, req.Args)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		return envelope{Kind: envRaise, Type: errorType(err), Error: err.Error()}
	}
	res, err := normalize(v, elapsed)
	if err != nil {
		return envelope{Kind: envRaise, Type: "ResultError", Error: err.Error()}
	}
	return envelope{Kind: envReturn, Result: &res}
}

func errorType(err error) string {
	var raised *RaisedError
	if errors.As(err, &raised) && raised.Type != "" {
		return raised.Type
	}
	return reflect.TypeOf(err).String()
}

// normalize turns whatever a Func returned into a Result: a bare number
// becomes the loss, status defaults from the loss being finite and duration
// defaults to the measured time.
func normalize(v any, elapsed float64) (Result, error) {
	switch r := v.(type) {
	case Result:
		return fillResult(r, elapsed), nil
	case *Result:
		if r == nil {
			return Result{}, fmt.Errorf("nil result")
		}
		return fillResult(*r, elapsed), nil
	}

	if f, ok := number(v); ok {
		return lossResult(f, "", nil, elapsed), nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("result is not serializable: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return Result{}, fmt.Errorf("result must be a number or an object with a loss, got %s", payload)
	}
	var loss float64
	raw, ok := fields["loss"]
	if !ok || json.Unmarshal(raw, &loss) != nil {
		return Result{}, fmt.Errorf("result object has no numeric loss: %s", payload)
	}
	var status string
	if s, ok := fields["status"]; ok {
		json.Unmarshal(s, &status)
	}
	res := lossResult(loss, status, payload, elapsed)
	if d, ok := fields["duration"]; ok {
		var dur float64
		if json.Unmarshal(d, &dur) == nil {
			res.Duration = dur
		}
	}
	return res, nil
}

func lossResult(loss float64, status string, payload json.RawMessage, elapsed float64) Result {
	res := Result{Status: status, Duration: elapsed, Payload: payload}
	finite := !math.IsNaN(loss) && !math.IsInf(loss, 0)
	if finite {
		res.Loss = &loss
	}
	if res.Status == "" {
		res.Status = StatusFail
		if finite {
			res.Status = StatusOK
		}
	}
	return res
}

func fillResult(r Result, elapsed float64) Result {
	if r.Loss != nil && (math.IsNaN(*r.Loss) || math.IsInf(*r.Loss, 0)) {
		r.Loss = nil
	}
	if r.Status == "" {
		r.Status = StatusFail
		if r.Loss != nil {
			r.Status = StatusOK
		}
	}
	if r.Duration == 0 {
		r.Duration = elapsed
	}
	return r
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
