// Package supervisor runs the analysis agent as a child process, streams
// its line-delimited output, enforces an inactivity watchdog and extracts
// the deployed-URL result token.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle of one supervised subprocess.
type State string

const (
	StateStarting  State = "Starting"
	StateRunning   State = "Running"
	StateSucceeded State = "Succeeded"
	StateFailed    State = "Failed"
	StateTimedOut  State = "TimedOut"
)

const stderrTailLimit = 8 * 1024

// Result is the terminal outcome of one supervised run.
type Result struct {
	State State
	// DeployedURL is the extracted result token. Empty on a zero-exit run
	// means the agent never printed one; the caller decides whether that
	// is fatal.
	DeployedURL string
	ExitCode    int
	StderrTail  string
	Elapsed     time.Duration
}

// Supervisor spawns and monitors agent subprocesses. Zero-value periods
// fall back to the defaults below.
type Supervisor struct {
	Logger *zap.Logger

	// InactivityCeiling is how long the process may stay silent on both
	// streams before the watchdog kills it.
	InactivityCeiling time.Duration
	WatchdogPeriod    time.Duration
	ProgressPeriod    time.Duration
}

// New creates a supervisor with the default timing policy.
func New(logger *zap.Logger) *Supervisor {
	return &Supervisor{
		Logger:            logger,
		InactivityCeiling: 15 * time.Minute,
		WatchdogPeriod:    30 * time.Second,
		ProgressPeriod:    60 * time.Second,
	}
}

// session is the transient per-run state shared between the stream readers
// and the timers.
type session struct {
	startedAt  time.Time
	lastOutput atomic.Int64 // unix nanos

	mu         sync.Mutex
	output     bytes.Buffer // combined stdout+stderr
	stderrTail []byte
	token      string
	timedOut   bool
	lastLine   string
}

func (s *session) touch(now time.Time) {
	s.lastOutput.Store(now.UnixNano())
}

func (s *session) lastOutputAt() time.Time {
	return time.Unix(0, s.lastOutput.Load())
}

// Run executes command with input written to its stdin, supervises it to
// completion and returns the terminal result. The returned error is
// non-nil for Failed and TimedOut states; a zero-exit run without a result
// token is not an error here.
func (s *Supervisor) Run(ctx context.Context, command []string, input string) (*Result, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("no command to supervise")
	}

	cmd := exec.CommandContext(ctx, command[0], command[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", command[0], err)
	}

	sess := &session{startedAt: time.Now()}
	sess.touch(sess.startedAt)

	s.Logger.Info("Agent process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("command", command[0]),
	)

	// Feed the task input and close so the agent sees EOF.
	go func() {
		if _, err := io.WriteString(stdin, input); err != nil {
			s.Logger.Warn("Failed to write agent input", zap.Error(err))
		}
		stdin.Close()
	}()

	// The readers must never block the timers: both streams are drained on
	// their own goroutines while the watchdog and progress tickers run on
	// a third.
	timersDone := make(chan struct{})
	go s.runTimers(cmd, sess, timersDone)

	var g errgroup.Group
	g.Go(func() error { return s.streamLines(stdout, "stdout", sess) })
	g.Go(func() error { return s.streamLines(stderr, "stderr", sess) })
	readErr := g.Wait()

	waitErr := cmd.Wait()
	close(timersDone)
	elapsed := time.Since(sess.startedAt)

	if readErr != nil {
		s.Logger.Warn("Agent output stream ended with error", zap.Error(readErr))
	}

	sess.mu.Lock()
	timedOut := sess.timedOut
	token := sess.token
	stderrTail := string(sess.stderrTail)
	if token == "" {
		// Partial-line flushes can land the token outside the per-line
		// watch; the accumulated output is authoritative.
		token = ExtractResultToken(sess.output.String())
	}
	sess.mu.Unlock()

	if timedOut {
		result := &Result{
			State:      StateTimedOut,
			ExitCode:   exitCode(waitErr),
			StderrTail: stderrTail,
			Elapsed:    elapsed,
		}
		return result, fmt.Errorf("agent produced no output for %s (last activity %s ago), killed",
			s.InactivityCeiling, elapsed-sess.lastOutputAt().Sub(sess.startedAt))
	}

	if waitErr != nil {
		code := exitCode(waitErr)
		result := &Result{
			State:      StateFailed,
			ExitCode:   code,
			StderrTail: stderrTail,
			Elapsed:    elapsed,
		}
		return result, fmt.Errorf("agent exited with code %d: %s", code, stderrTail)
	}

	s.Logger.Info("Agent process succeeded",
		zap.Duration("elapsed", elapsed),
		zap.Bool("deployed_url_found", token != ""),
	)
	return &Result{
		State:       StateSucceeded,
		DeployedURL: token,
		ExitCode:    0,
		StderrTail:  stderrTail,
		Elapsed:     elapsed,
	}, nil
}

// runTimers drives the inactivity watchdog and the progress log until the
// process exits.
func (s *Supervisor) runTimers(cmd *exec.Cmd, sess *session, done <-chan struct{}) {
	watchdog := time.NewTicker(s.WatchdogPeriod)
	defer watchdog.Stop()
	progress := time.NewTicker(s.ProgressPeriod)
	defer progress.Stop()

	for {
		select {
		case <-done:
			return
		case <-watchdog.C:
			idle := time.Since(sess.lastOutputAt())
			if idle < s.InactivityCeiling {
				continue
			}
			sess.mu.Lock()
			sess.timedOut = true
			lastLine := sess.lastLine
			sess.mu.Unlock()

			s.Logger.Error("Agent inactive beyond ceiling, killing process",
				zap.Duration("idle", idle),
				zap.Duration("ceiling", s.InactivityCeiling),
				zap.String("last_line", lastLine),
			)
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			return
		case <-progress.C:
			s.Logger.Info("Agent still running",
				zap.Duration("elapsed", time.Since(sess.startedAt)),
				zap.Duration("since_last_output", time.Since(sess.lastOutputAt())),
			)
		}
	}
}

// streamLines reads one output stream, buffering partial lines across reads
// and resetting the inactivity clock on every chunk received.
func (s *Supervisor) streamLines(r io.Reader, stream string, sess *session) error {
	buf := make([]byte, 32*1024)
	var pending []byte

	for {
		n, err := r.Read(buf)
		if n > 0 {
			sess.touch(time.Now())

			sess.mu.Lock()
			sess.output.Write(buf[:n])
			if stream == "stderr" {
				sess.stderrTail = append(sess.stderrTail, buf[:n]...)
				if len(sess.stderrTail) > stderrTailLimit {
					sess.stderrTail = sess.stderrTail[len(sess.stderrTail)-stderrTailLimit:]
				}
			}
			sess.mu.Unlock()

			pending = append(pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(pending, '\n')
				if idx < 0 {
					break
				}
				line := string(bytes.TrimRight(pending[:idx], "\r"))
				pending = pending[idx+1:]
				s.handleLine(line, stream, sess)
			}
		}
		if err != nil {
			if len(pending) > 0 {
				s.handleLine(string(bytes.TrimRight(pending, "\r")), stream, sess)
			}
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// handleLine processes one complete output line: watch for the result
// token, then best-effort parse for a progress preview. A line that is
// neither JSON nor the token is passed through as-is; parse failures never
// abort the stream.
func (s *Supervisor) handleLine(line string, stream string, sess *session) {
	if line == "" {
		return
	}

	sess.mu.Lock()
	sess.lastLine = line
	sess.mu.Unlock()

	if token := ExtractResultToken(line); token != "" {
		sess.mu.Lock()
		sess.token = token
		sess.mu.Unlock()
		s.Logger.Info("Agent reported deployed URL", zap.String("deployed_url", token))
		return
	}

	if preview, ok := previewFromJSON(line); ok {
		if preview != "" {
			s.Logger.Info("Agent progress",
				zap.String("stream", stream),
				zap.String("preview", preview),
			)
		}
		return
	}

	s.Logger.Debug("Agent output",
		zap.String("stream", stream),
		zap.String("line", truncate(line, 200)),
	)
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}
