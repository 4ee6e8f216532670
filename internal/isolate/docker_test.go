package isolate_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/autoprep/internal/isolate"
)

const writeResult = `test -f /channel/request.json && echo '{"kind":"return","result":{"loss":0.5,"status":"ok","duration":0.1}}' > /channel/result.json`

func requireDocker(t *testing.T) {
	t.Helper()
	if os.Getenv("AUTOPREP_DOCKER_TESTS") == "" {
		t.Skip("set AUTOPREP_DOCKER_TESTS=1 to run Docker tests")
	}
}

func TestDockerSpawner(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	e := &isolate.Executor{
		Spawner:     &isolate.DockerSpawner{Image: "alpine:latest", Command: []string{"sh", "-c", writeResult}},
		Timeout:     30 * time.Second,
		MaxAttempts: 1,
	}
	out, err := e.Run(ctx, isolate.Request{Func: "score"})
	require.NoError(t, err)
	require.Equal(t, isolate.KindSuccess, out.Kind, "%v", out.Err)
	require.NotNil(t, out.Result.Loss)
	assert.Equal(t, 0.5, *out.Result.Loss)
}

func TestDockerSpawnerNonRootUserWritesResult(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	e := &isolate.Executor{
		Spawner: &isolate.DockerSpawner{
			Image:       "alpine:latest",
			Command:     []string{"sh", "-c", writeResult},
			UserID:      fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
			CPULimit:    0.5,
			MemoryLimit: 64 << 20,
		},
		Timeout:     30 * time.Second,
		MaxAttempts: 1,
	}
	out, err := e.Run(ctx, isolate.Request{Func: "score"})
	require.NoError(t, err)
	assert.Equal(t, isolate.KindSuccess, out.Kind, "%v", out.Err)
}

func TestDockerSpawnerTimeout(t *testing.T) {
	requireDocker(t)
	e := &isolate.Executor{
		Spawner:     &isolate.DockerSpawner{Image: "alpine:latest", Command: []string{"sleep", "300"}},
		Timeout:     2 * time.Second,
		MaxAttempts: 1,
	}
	start := time.Now()
	out, err := e.Run(context.Background(), isolate.Request{Func: "score"})
	require.NoError(t, err)
	assert.Equal(t, isolate.KindTimeout, out.Kind)
	assert.ErrorIs(t, out.Err, isolate.ErrTimeout)
	assert.Less(t, time.Since(start), 30*time.Second)
}

func TestDockerKillAfterRemoveIsNotAnError(t *testing.T) {
	requireDocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s := &isolate.DockerSpawner{Image: "alpine:latest", Command: []string{"true"}}
	w, err := s.Spawn(ctx, 1, isolate.Request{Func: "score"})
	require.NoError(t, err)
	<-w.Result()
	w.Wait()
	assert.NoError(t, w.Kill())
}
