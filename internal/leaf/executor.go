package leaf

import (
	"context"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voicebridge/bridged/internal/config"
	"github.com/voicebridge/bridged/internal/model"
)

// Runner abstracts process execution so handlers can be tested without
// touching the host.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// Recorder is the slice of the history ledger the leaf actions need.
type Recorder interface {
	Record(ctx context.Context, action string, details map[string]string, undoable bool, undoCmd *model.Command) (model.HistoryEntry, error)
}

// Executor runs host-side commands for the leaf actions.
type Executor struct {
	cfg      config.Config
	runner   Runner
	recorder Recorder
	log      *logrus.Logger
}

func NewExecutor(cfg config.Config, recorder Recorder, log *logrus.Logger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{cfg: cfg, runner: OSRunner{}, recorder: recorder, log: log}
}

func NewExecutorWithRunner(cfg config.Config, recorder Recorder, log *logrus.Logger, runner Runner) *Executor {
	e := NewExecutor(cfg, recorder, log)
	e.runner = runner
	return e
}

// run executes one host command under the standard timeout.
func (e *Executor) run(ctx context.Context, name string, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
	defer cancel()
	out, err := e.runner.Run(runCtx, name, args...)
	return string(out), err
}

// runShell executes a full shell line under the longer shell timeout.
func (e *Executor) runShell(ctx context.Context, line string) (string, time.Duration, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.ShellTimeout)
	defer cancel()
	start := time.Now()
	out, err := e.runner.Run(runCtx, "sh", "-c", line)
	return string(out), time.Since(start), err
}

func (e *Executor) record(ctx context.Context, name string, details map[string]string, undoable bool, undoCmd *model.Command) {
	if e.recorder == nil {
		return
	}
	// Ledger failures never fail the action itself.
	_, _ = e.recorder.Record(ctx, name, details, undoable, undoCmd)
}
