package isolate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// ResultFD is the file descriptor a process worker writes its envelope to.
const ResultFD = 3

// ExecSpawner starts each attempt as a child process running Path with Args.
// The request is written to the child's stdin and the envelope is read from
// its inherited file descriptor 3, so the function's own stdout and stderr
// never mix with the result.
type ExecSpawner struct {
	Path   string
	Args   []string
	Env    []string
	Output io.Writer // child stdout and stderr; os.Stderr when nil
}

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(ctx context.Context, attempt int, req Request) (Worker, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating result pipe: %w", err)
	}

	cmd := exec.Command(s.Path, s.Args...)
	cmd.Env = append(append(os.Environ(), s.Env...), AttemptEnv+"="+strconv.Itoa(attempt))
	cmd.Stdin = bytes.NewReader(data)
	out := s.Output
	if out == nil {
		out = os.Stderr
	}
	cmd.Stdout, cmd.Stderr = out, out
	cmd.ExtraFiles = []*os.File{w}
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("starting %s: %w", s.Path, err)
	}
	// The child holds the only write end now; EOF means it exited.
	w.Close()

	p := &process{cmd: cmd, result: make(chan Message, 1)}
	go func() {
		data, err := io.ReadAll(r)
		r.Close()
		p.result <- Message{Data: data, Err: err}
		close(p.result)
	}()
	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	result chan Message

	once    sync.Once
	waitErr error
}

func (p *process) Result() <-chan Message { return p.result }

func (p *process) Kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *process) Wait() error {
	p.once.Do(func() {
		p.waitErr = p.cmd.Wait()
	})
	return p.waitErr
}

// ServeProcess is the child side of ExecSpawner: it serves the request on
// stdin and writes the envelope to ResultFD.
func ServeProcess(ctx context.Context, reg Registry) error {
	out := os.NewFile(ResultFD, "result")
	if out == nil {
		return fmt.Errorf("result descriptor %d is not open", ResultFD)
	}
	defer out.Close()
	return Serve(ctx, reg, os.Stdin, out)
}
