// Package jobs runs long remote calls behind a progress dialog and reports their outcome.
package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"apps-console/pkg/rpc"
	"apps-console/pkg/ui"
)

// Runner submits jobs. It never retries and never times out.
type Runner struct {
	caller   rpc.Caller
	progress ui.Progress
	log      *logrus.Entry
	metrics  *Metrics
}

// NewRunner creates a job runner. progress may be nil.
func NewRunner(caller rpc.Caller, progress ui.Progress, log *logrus.Entry) *Runner {
	if progress == nil {
		progress = ui.NoProgress{}
	}
	return &Runner{caller: caller, progress: progress, log: log.WithField("component", "jobs")}
}

// WithMetrics records job outcomes in m.
func (r *Runner) WithMetrics(m *Metrics) *Runner {
	r.metrics = m
	return r
}

// Job is one submitted call. Exactly one of Success or Failure fires, exactly once.
type Job struct {
	Title  string
	Method string
	Args   []any

	dialog  ui.Dialog
	success chan json.RawMessage
	failure chan error
	done    chan struct{}

	mu     sync.Mutex
	result json.RawMessage
	err    error
}

// Submit opens a progress dialog titled title and issues method with args.
func (r *Runner) Submit(ctx context.Context, title, method string, args ...any) *Job {
	j := &Job{
		Title:   title,
		Method:  method,
		Args:    args,
		dialog:  r.progress.Open(title),
		success: make(chan json.RawMessage, 1),
		failure: make(chan error, 1),
		done:    make(chan struct{}),
	}
	log := r.log.WithField("method", method)
	go func() {
		start := time.Now()
		res, err := r.caller.CallJob(ctx, method, j.dialog.Update, args...)
		r.metrics.observe(method, err, time.Since(start))

		j.mu.Lock()
		j.result, j.err = res, err
		j.mu.Unlock()
		if err != nil {
			log.WithError(err).Warn("job failed")
			j.dialog.Fail(err)
			j.failure <- err
		} else {
			log.Debug("job succeeded")
			j.success <- res
		}
		close(j.done)
	}()
	return j
}

// Success fires with the job result.
func (j *Job) Success() <-chan json.RawMessage { return j.success }

// Failure fires with the job error.
func (j *Job) Failure() <-chan error { return j.failure }

// Dialog is the progress dialog opened for the job; callers close it.
func (j *Job) Dialog() ui.Dialog { return j.dialog }

// Wait blocks until the job finishes or ctx ends.
func (j *Job) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await waits for the outcome and closes the dialog either way.
func (j *Job) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case res := <-j.success:
		j.dialog.Close()
		return res, nil
	case err := <-j.failure:
		j.dialog.Close()
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
