package isolate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// ChannelDir is where a container worker finds its request and writes its
// result.
const ChannelDir = "/channel"

// Files inside the channel directory.
const (
	RequestFile = "request.json"
	ResultFile  = "result.json"
)

// Mount is a host path bind-mounted into worker containers.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// DockerSpawner runs each attempt in a fresh container. The request and the
// result travel through a per-attempt host directory bind-mounted at
// ChannelDir.
type DockerSpawner struct {
	Image       string
	Command     []string // defaults to autoprep worker --channel /channel
	Mounts      []Mount
	CPULimit    float64
	MemoryLimit int64
	// UserID runs the worker as uid:gid so it can write into the channel
	// directory, which is created 0700 and owned by the host user.
	UserID string
	Logger *slog.Logger
}

// Spawn implements Spawner.
func (s *DockerSpawner) Spawn(ctx context.Context, attempt int, req Request) (Worker, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dir, err := os.MkdirTemp("", "autoprep-worker-")
	if err != nil {
		return nil, fmt.Errorf("creating channel dir: %w", err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, RequestFile), data, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("writing request: %w", err)
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	env := []string{AttemptEnv + "=" + strconv.Itoa(attempt)}

	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: dir,
		Target: ChannelDir,
	}}
	for _, m := range s.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: mounts,
		Init:   &initTrue,
	}
	if s.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(s.CPULimit * 1e9)
	}
	if s.MemoryLimit > 0 {
		hostCfg.Memory = s.MemoryLimit
	}

	cmd := s.Command
	if len(cmd) == 0 {
		cmd = []string{"autoprep", "worker", "--channel", ChannelDir}
	}
	containerCfg := &container.Config{
		Image:  s.Image,
		Cmd:    cmd,
		Env:    env,
		Labels: map[string]string{"autoprep": "true", "autoprep.func": req.Func},
	}
	if s.UserID != "" {
		containerCfg.User = s.UserID
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		cli.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("creating container: %w", err)
	}

	c := &containerWorker{
		cli:    cli,
		id:     createResp.ID,
		dir:    dir,
		logger: logger,
		result: make(chan Message, 1),
		done:   make(chan struct{}),
	}
	if _, err := cli.ContainerStart(ctx, c.id, client.ContainerStartOptions{}); err != nil {
		c.cleanup()
		return nil, fmt.Errorf("starting container: %w", err)
	}

	waitCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.watch(waitCtx)
	return c, nil
}

type containerWorker struct {
	cli    *client.Client
	id     string
	dir    string
	logger *slog.Logger

	result chan Message
	done   chan struct{}
	cancel context.CancelFunc

	exitCode int
	waitErr  error
	once     sync.Once
}

// watch waits for the container to stop and then delivers its result file.
func (c *containerWorker) watch(ctx context.Context) {
	defer close(c.done)
	defer close(c.result)

	waitResult := c.cli.ContainerWait(ctx, c.id, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				c.waitErr = err
				c.result <- Message{Err: fmt.Errorf("waiting for container: %w", err)}
				return
			}
		case status := <-waitResult.Result:
			c.exitCode = int(status.StatusCode)
			data, err := os.ReadFile(filepath.Join(c.dir, ResultFile))
			if errors.Is(err, os.ErrNotExist) {
				c.dumpLogs()
				err = nil
			}
			c.result <- Message{Data: data, Err: err}
			return
		}
	}
}

func (c *containerWorker) dumpLogs() {
	logReader, _ := c.cli.ContainerLogs(context.Background(), c.id, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Tail: "100"})
	if logReader != nil {
		logData, _ := io.ReadAll(logReader)
		logReader.Close()
		if len(logData) > 0 {
			c.logger.Warn("worker container exited without a result", "container", c.id, "logs", string(logData))
		}
	}
}

func (c *containerWorker) Result() <-chan Message { return c.result }

func (c *containerWorker) Kill() error {
	_, err := c.cli.ContainerKill(context.Background(), c.id, client.ContainerKillOptions{Signal: "SIGKILL"})
	if err != nil && !cerrdefs.IsNotFound(err) && !cerrdefs.IsConflict(err) {
		return fmt.Errorf("killing container %s: %w", c.id, err)
	}
	return nil
}

// Wait blocks until the watcher has finished, then removes the container and
// its channel directory.
func (c *containerWorker) Wait() error {
	c.once.Do(func() {
		<-c.done
		c.cleanup()
	})
	if c.waitErr != nil {
		return c.waitErr
	}
	if c.exitCode != 0 {
		return fmt.Errorf("container exited with status %d", c.exitCode)
	}
	return nil
}

func (c *containerWorker) cleanup() {
	if c.cancel != nil {
		c.cancel()
	}
	c.cli.ContainerRemove(context.Background(), c.id, client.ContainerRemoveOptions{Force: true})
	c.cli.Close()
	os.RemoveAll(c.dir)
}

// ServeChannel is the container side of DockerSpawner: it serves the request
// file in dir and writes the result file atomically.
func ServeChannel(ctx context.Context, reg Registry, dir string) error {
	in, err := os.Open(filepath.Join(dir, RequestFile))
	if err != nil {
		return fmt.Errorf("opening request: %w", err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(dir, ResultFile+".*")
	if err != nil {
		return fmt.Errorf("creating result file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := Serve(ctx, reg, in, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing result file: %w", err)
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, ResultFile))
}
