// Package pipeline sequences named stage jobs and decides, per job policy,
// whether each one needs to run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jamesainslie/fingerprint/pkg/fingerprint/artifact"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/history"
	"github.com/jamesainslie/fingerprint/pkg/fingerprint/logging"
)

// Policy decides when a job runs.
type Policy int

const (
	// Always runs the job every time.
	Always Policy = iota
	// Lazy runs the job only when an output is missing.
	Lazy
	// Dependency runs the job when an output is missing or older than an input.
	Dependency
)

func (p Policy) String() string {
	switch p {
	case Always:
		return "always"
	case Lazy:
		return "lazy"
	case Dependency:
		return "dependency"
	default:
		return "unknown"
	}
}

// ErrUnknownPolicy is returned by ParsePolicy.
var ErrUnknownPolicy = errors.New("unknown policy")

// ParsePolicy parses "always", "lazy" or "dependency".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "always", "":
		return Always, nil
	case "lazy":
		return Lazy, nil
	case "dependency":
		return Dependency, nil
	}
	return Always, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Job is one stage. Inputs must exist before Run is called; Run must
// produce every output.
type Job struct {
	Name    string
	Inputs  []string
	Outputs []string
	Policy  Policy
	Run     func(ctx context.Context) (Summary, error)
}

// Summary carries per-stage counters into the journal.
type Summary map[string]int64

// Outcome reports what happened to one job.
type Outcome struct {
	Name     string
	Ran      bool
	Reason   string
	Duration time.Duration
	Summary  Summary
}

// Runner executes jobs in order.
type Runner struct {
	jobs    []Job
	journal *history.Journal
	log     *logging.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithJournal records each outcome in j.
func WithJournal(j *history.Journal) Option {
	return func(r *Runner) {
		r.journal = j
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) {
		r.log = l
	}
}

// New returns a Runner for jobs.
func New(jobs []Job, opts ...Option) *Runner {
	r := &Runner{jobs: jobs, log: logging.Get("pipeline")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes jobs sequentially and stops at the first failure.
func (r *Runner) Run(ctx context.Context) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(r.jobs))
	for _, job := range r.jobs {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		out, err := r.runJob(ctx, job)
		outcomes = append(outcomes, out)
		if err != nil {
			return outcomes, fmt.Errorf("%s: %w", job.Name, err)
		}
	}
	return outcomes, nil
}

func (r *Runner) runJob(ctx context.Context, job Job) (Outcome, error) {
	out := Outcome{Name: job.Name}

	run, reason, err := ShouldRun(job)
	if err != nil {
		r.record(job, out, err)
		return out, err
	}
	out.Reason = reason
	if !run {
		r.log.Info("stage skipped", "stage", job.Name, "reason", reason)
		r.record(job, out, nil)
		return out, nil
	}
	if err := artifact.CheckInputs(job.Inputs...); err != nil {
		r.record(job, out, err)
		return out, err
	}

	r.log.Info("stage started", "stage", job.Name, "reason", reason)
	start := time.Now()
	summary, err := job.Run(ctx)
	out.Ran = true
	out.Duration = time.Since(start)
	out.Summary = summary
	if err != nil {
		r.log.Error("stage failed", "stage", job.Name, "error", err)
		r.record(job, out, err)
		return out, err
	}
	r.log.Info("stage completed", "stage", job.Name, "duration", out.Duration)
	r.record(job, out, nil)
	return out, nil
}

func (r *Runner) record(job Job, out Outcome, runErr error) {
	if r.journal == nil {
		return
	}
	e := history.Entry{
		Stage:    job.Name,
		Status:   history.StatusCompleted,
		Reason:   out.Reason,
		Inputs:   job.Inputs,
		Outputs:  job.Outputs,
		Duration: out.Duration,
		Summary:  out.Summary,
	}
	switch {
	case runErr != nil:
		e.Status = history.StatusFailed
		e.Error = runErr.Error()
	case !out.Ran:
		e.Status = history.StatusSkipped
	}
	if _, err := r.journal.Log(e); err != nil {
		r.log.Warn("history not recorded", "stage", job.Name, "error", err)
	}
}

// ShouldRun applies job's policy to the current state of its files.
func ShouldRun(job Job) (bool, string, error) {
	switch job.Policy {
	case Always:
		return true, "always", nil
	case Lazy:
		for _, p := range job.Outputs {
			if !artifact.Exists(p) {
				return true, "missing output " + p, nil
			}
		}
		return false, "outputs exist", nil
	case Dependency:
		oldestOut, missing, err := oldest(job.Outputs)
		if err != nil {
			return false, "", err
		}
		if missing != "" {
			return true, "missing output " + missing, nil
		}
		for _, p := range job.Inputs {
			info, err := os.Stat(p)
			if err != nil {
				return false, "", fmt.Errorf("%w: %s", artifact.ErrMissingInput, p)
			}
			if info.ModTime().After(oldestOut) {
				return true, "input newer than outputs: " + p, nil
			}
		}
		return false, "outputs up to date", nil
	}
	return false, "", fmt.Errorf("%w: %d", ErrUnknownPolicy, job.Policy)
}

func oldest(paths []string) (time.Time, string, error) {
	var t time.Time
	for i, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return time.Time{}, p, nil
		}
		if err != nil {
			return time.Time{}, "", err
		}
		if i == 0 || info.ModTime().Before(t) {
			t = info.ModTime()
		}
	}
	return t, "", nil
}
