package generation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/endlesschasey-ai/agent-template/ipc"
	"github.com/endlesschasey-ai/agent-template/log"
	"github.com/endlesschasey-ai/agent-template/metrics"
	"github.com/endlesschasey-ai/agent-template/source"
	"github.com/endlesschasey-ai/agent-template/types"
)

// maxStderr bounds the captured generator stderr.
const maxStderr = 64 * 1024

// ExecConfig configures a subprocess generator.
type ExecConfig struct {
	// Path is the generator executable.
	Path string
	// Args are passed to the executable.
	Args []string
	// Env entries are appended to the inherited environment and win over it.
	Env       []string
	Logger    *log.Logger
	Collector *metrics.Collector
}

// Exec runs one generator process per request. The process receives an
// ipc.Input on stdin and writes ipc frames to stdout.
type Exec struct {
	cfg ExecConfig
}

// NewExec creates a subprocess generator.
func NewExec(cfg ExecConfig) (*Exec, error) {
	if cfg.Path == "" {
		return nil, errors.New("exec generator requires a path")
	}
	return &Exec{cfg: cfg}, nil
}

// Name implements Generator.
func (e *Exec) Name() string { return "exec" }

// Start launches the process and writes the request to its stdin.
func (e *Exec) Start(ctx context.Context, req Request, sink source.Sink) (Stream, error) {
	cmd := exec.CommandContext(ctx, e.cfg.Path, e.cfg.Args...)
	env := append(os.Environ(), e.cfg.Env...)
	env = append(env,
		"AGENT_REQUEST_ID="+req.RequestID,
		"AGENT_SESSION_ID="+req.SessionID,
	)
	cmd.Env = deduplicateEnv(env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := &boundedBuffer{limit: maxStderr}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start generator: %w", err)
	}

	s := &execStream{
		cmd:       cmd,
		decoder:   ipc.NewFrameDecoder(bufio.NewReader(stdout)),
		sink:      sink,
		stderr:    stderr,
		logger:    e.cfg.Logger.With("exec"),
		collector: e.cfg.Collector,
	}

	input := ipc.Input{
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Input:     req.Input,
		History:   req.History,
	}
	if err := json.NewEncoder(stdin).Encode(input); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to write input: %w", err)
	}
	if err := stdin.Close(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to close stdin: %w", err)
	}
	return s, nil
}

type execStream struct {
	cmd       *exec.Cmd
	decoder   *ipc.FrameDecoder
	sink      source.Sink
	stderr    *boundedBuffer
	logger    *log.Logger
	collector *metrics.Collector

	waitOnce sync.Once
	waitErr  error
	finished atomic.Bool
}

// Next reads frames until a fragment arrives, forwarding notifications to
// the sink. It returns io.EOF when the process closes stdout and exits 0.
func (s *execStream) Next(context.Context) (types.Fragment, error) {
	if s.finished.Load() {
		return types.Fragment{}, io.EOF
	}
	for {
		payload, err := s.decoder.ReadFrame()
		if err == io.EOF {
			s.finished.Store(true)
			if werr := s.wait(); werr != nil {
				return types.Fragment{}, werr
			}
			return types.Fragment{}, io.EOF
		}
		if err != nil {
			if ipc.IsFatalFrameError(err) {
				s.collector.IncIPCDecodeErrors()
			}
			s.finished.Store(true)
			s.kill()
			return types.Fragment{}, fmt.Errorf("generator stream: %w", err)
		}

		frame, err := ipc.DecodeFrame(payload)
		if err != nil {
			s.collector.IncIPCDecodeErrors()
			s.logger.Warn("skipping undecodable frame", map[string]any{"error": err.Error()})
			continue
		}

		switch f := frame.(type) {
		case *ipc.FragmentFrame:
			return types.Fragment{Text: f.Text}, nil
		case *ipc.NotificationFrame:
			// End of production is signalled by the stream itself.
			if f.Notification.IsDone() {
				continue
			}
			s.sink.Push(f.Notification)
		case *ipc.ErrorFrame:
			s.finished.Store(true)
			s.kill()
			return types.Fragment{}, fmt.Errorf("generator failed: %s", f.Message)
		}
	}
}

// wait reaps the process once and reports a non-zero exit.
func (s *execStream) wait() error {
	s.waitOnce.Do(func() {
		err := s.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case errors.As(err, &exitErr):
			s.waitErr = fmt.Errorf("generator exited with code %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(s.stderr.String()))
		default:
			s.waitErr = fmt.Errorf("generator wait failed: %w", err)
		}
	})
	return s.waitErr
}

func (s *execStream) kill() {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// Close kills the process if it is still running and reaps it. Exit
// failures are reported by Next, not here.
func (s *execStream) Close() error {
	if !s.finished.Load() {
		s.kill()
	}
	_ = s.wait()
	if stderr := s.stderr.String(); stderr != "" {
		s.logger.Debug("generator stderr", map[string]any{"stderr": stderr})
	}
	return nil
}

// boundedBuffer keeps the first limit bytes written to it.
type boundedBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// deduplicateEnv keeps the last occurrence of each env var key, so that
// configured values win over inherited ones.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}

var _ Generator = (*Exec)(nil)
