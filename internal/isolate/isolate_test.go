package isolate_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/autoprep/internal/isolate"
)

const helperEnv = "AUTOPREP_TEST_WORKER"

var registry = isolate.Registry{
	"number": func(context.Context, json.RawMessage) (any, error) { return 0.25, nil },
	"object": func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"loss": 0.1, "extra": "x"}, nil
	},
	"nan":   func(context.Context, json.RawMessage) (any, error) { return math.NaN(), nil },
	"raise": func(context.Context, json.RawMessage) (any, error) { return nil, errors.New("boom") },
	"panic": func(context.Context, json.RawMessage) (any, error) { panic("kaboom") },
	"hang": func(context.Context, json.RawMessage) (any, error) {
		time.Sleep(time.Minute)
		return 0, nil
	},
	"flaky": func(context.Context, json.RawMessage) (any, error) {
		if isolate.Attempt() == 1 {
			time.Sleep(time.Minute)
		}
		return 0.5, nil
	},
	"crash": func(context.Context, json.RawMessage) (any, error) {
		os.Exit(3)
		return nil, nil
	},
	"echo": func(_ context.Context, args json.RawMessage) (any, error) {
		var in struct{ X float64 }
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return in.X, nil
	},
	"noloss": func(context.Context, json.RawMessage) (any, error) { return map[string]any{"score": 1}, nil },
	"result": func(context.Context, json.RawMessage) (any, error) {
		loss := 0.3
		return isolate.Result{Loss: &loss, Duration: 7}, nil
	},
	"described": func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"loss": 2, "status": "fail", "duration": 1.5}, nil
	},
	"text": func(context.Context, json.RawMessage) (any, error) { return "nope", nil },
}

// TestWorkerProcess is not a real test: it is the child process the
// executor spawns.
func TestWorkerProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}
	if err := isolate.ServeProcess(context.Background(), registry); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}

func executor(timeout time.Duration, attempts int) *isolate.Executor {
	return &isolate.Executor{
		Spawner: &isolate.ExecSpawner{
			Path: os.Args[0],
			Args: []string{"-test.run=^TestWorkerProcess$"},
			Env:  []string{helperEnv + "=1"},
		},
		Timeout:     timeout,
		MaxAttempts: attempts,
	}
}

func TestExecutorSuccess(t *testing.T) {
	out, err := executor(10*time.Second, 1).Run(context.Background(), isolate.Request{Func: "number"})
	require.NoError(t, err)
	assert.Equal(t, isolate.KindSuccess, out.Kind)
	require.NotNil(t, out.Result.Loss)
	assert.Equal(t, 0.25, *out.Result.Loss)
	assert.Equal(t, isolate.StatusOK, out.Result.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.NoError(t, out.Err)
}

func TestExecutorPassesArgs(t *testing.T) {
	out, err := executor(10*time.Second, 1).Run(context.Background(), isolate.Request{Func: "echo", Args: json.RawMessage(`{"X": 0.75}`)})
	require.NoError(t, err)
	require.NotNil(t, out.Result.Loss)
	assert.Equal(t, 0.75, *out.Result.Loss)
}

func TestExecutorPayload(t *testing.T) {
	out, err := executor(10*time.Second, 1).Run(context.Background(), isolate.Request{Func: "object"})
	require.NoError(t, err)
	require.Equal(t, isolate.KindSuccess, out.Kind)
	var payload struct {
		Loss  float64 `json:"loss"`
		Extra string  `json:"extra"`
	}
	require.NoError(t, out.Result.Decode(&payload))
	assert.Equal(t, "x", payload.Extra)
}

func TestExecutorRaised(t *testing.T) {
	tests := []struct {
		fn      string
		errType string
		msg     string
	}{
		{"raise", "*errors.errorString", "boom"},
		{"panic", "Panic", "kaboom"},
		{"missing", "LookupError", "not registered"},
		{"noloss", "ResultError", "no numeric loss"},
		{"text", "ResultError", "must be a number"},
		{"crash", "WorkerCrash", "no result"},
	}
	for _, tt := range tests {
		t.Run(tt.fn, func(t *testing.T) {
			out, err := executor(10*time.Second, 3).Run(context.Background(), isolate.Request{Func: tt.fn})
			require.NoError(t, err)
			assert.Equal(t, isolate.KindRaised, out.Kind)
			assert.Equal(t, 1, out.Attempts, "raised calls are not retried")
			assert.Equal(t, isolate.StatusFail, out.Result.Status)
			assert.Equal(t, isolate.FailureError, out.Result.Failure)

			var raised *isolate.RaisedError
			require.ErrorAs(t, out.Err, &raised)
			assert.Equal(t, tt.errType, raised.Type)
			assert.Contains(t, raised.Message, tt.msg)
			assert.False(t, errors.Is(out.Err, isolate.ErrTimeout))
		})
	}
}

func TestExecutorTimeout(t *testing.T) {
	timeout := 300 * time.Millisecond
	start := time.Now()
	out, err := executor(timeout, 2).Run(context.Background(), isolate.Request{Func: "hang"})
	require.NoError(t, err)

	assert.Equal(t, isolate.KindTimeout, out.Kind)
	assert.True(t, errors.Is(out.Err, isolate.ErrTimeout))
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, isolate.StatusFail, out.Result.Status)
	assert.Equal(t, isolate.FailureTimeout, out.Result.Failure)
	assert.Nil(t, out.Result.Loss)
	assert.GreaterOrEqual(t, time.Since(start), 2*timeout)
	assert.Less(t, time.Since(start), 2*timeout+5*time.Second)
}

func TestExecutorRetryThenSucceed(t *testing.T) {
	out, err := executor(2*time.Second, 3).Run(context.Background(), isolate.Request{Func: "flaky"})
	require.NoError(t, err)
	assert.Equal(t, isolate.KindSuccess, out.Kind)
	assert.Equal(t, 2, out.Attempts)
	require.NotNil(t, out.Result.Loss)
	assert.Equal(t, 0.5, *out.Result.Loss)
}

func TestExecutorContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := executor(0, 1).Run(ctx, isolate.Request{Func: "hang"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type failingSpawner struct{}

func (failingSpawner) Spawn(context.Context, int, isolate.Request) (isolate.Worker, error) {
	return nil, errors.New("no more processes")
}

func TestExecutorSpawnError(t *testing.T) {
	e := &isolate.Executor{Spawner: failingSpawner{}, MaxAttempts: 2}
	_, err := e.Run(context.Background(), isolate.Request{Func: "number"})
	assert.ErrorContains(t, err, "no more processes")
}

func serve(t *testing.T, fn string) map[string]any {
	t.Helper()
	req, err := json.Marshal(isolate.Request{Func: fn})
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, isolate.Serve(context.Background(), registry, bytes.NewReader(req), &out))
	var env map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &env))
	return env
}

func TestServeNormalizesResults(t *testing.T) {
	env := serve(t, "number")
	assert.Equal(t, "return", env["kind"])
	res := env["result"].(map[string]any)
	assert.Equal(t, 0.25, res["loss"])
	assert.Equal(t, "ok", res["status"])
	assert.Contains(t, res, "duration")
	assert.NotContains(t, res, "payload")

	res = serve(t, "nan")["result"].(map[string]any)
	assert.Nil(t, res["loss"])
	assert.Equal(t, "fail", res["status"])

	res = serve(t, "result")["result"].(map[string]any)
	assert.Equal(t, 0.3, res["loss"])
	assert.Equal(t, "ok", res["status"])
	assert.Equal(t, 7.0, res["duration"])

	res = serve(t, "described")["result"].(map[string]any)
	assert.Equal(t, 2.0, res["loss"])
	assert.Equal(t, "fail", res["status"])
	assert.Equal(t, 1.5, res["duration"])
	assert.Contains(t, res, "payload")
}

func TestServeBadRequest(t *testing.T) {
	var out bytes.Buffer
	err := isolate.Serve(context.Background(), registry, bytes.NewReader([]byte("{")), &out)
	assert.Error(t, err)
	assert.Zero(t, out.Len())
}

func TestServeChannel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(dir+"/"+isolate.RequestFile, []byte(`{"func":"number"}`), 0o644))
	require.NoError(t, isolate.ServeChannel(context.Background(), registry, dir))
	data, err := os.ReadFile(dir + "/" + isolate.ResultFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"return"`)
}
