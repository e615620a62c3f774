package middleware

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"apps-console/pkg/rpc"
)

// jobWaiter keeps the latest state seen for one job. A terminal state is never overwritten.
type jobWaiter struct {
	mu      sync.Mutex
	latest  rpc.Job
	seen    bool
	aborted bool
	notify  chan struct{}
}

func newJobWaiter() *jobWaiter {
	return &jobWaiter{notify: make(chan struct{}, 1)}
}

func (w *jobWaiter) update(job rpc.Job) {
	w.mu.Lock()
	if w.seen && w.latest.Terminal() {
		w.mu.Unlock()
		return
	}
	w.latest, w.seen = job, true
	w.mu.Unlock()
	w.signal()
}

func (w *jobWaiter) abort() {
	w.mu.Lock()
	w.aborted = true
	w.mu.Unlock()
	w.signal()
}

func (w *jobWaiter) signal() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *jobWaiter) state() (rpc.Job, bool, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest, w.seen, w.aborted
}

// CallJob invokes a job method and waits for the job to finish, reporting progress on the way.
func (c *Client) CallJob(ctx context.Context, method string, progress func(rpc.JobProgress), params ...any) (json.RawMessage, error) {
	if err := c.ensureJobSubscription(); err != nil {
		return nil, err
	}
	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, errors.Wrapf(err, "%s did not return a job id", method)
	}

	w := newJobWaiter()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, rpc.ErrClosed
	}
	c.jobs[id] = w
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.jobs, id)
		c.mu.Unlock()
	}()

	// The job may have finished before the waiter was registered.
	if job, err := c.getJob(ctx, id); err == nil {
		w.update(job)
	} else {
		c.log.WithError(err).WithField("job", id).Debug("failed to read job state")
	}

	var lastProgress rpc.JobProgress
	for {
		job, seen, aborted := w.state()
		if aborted {
			return nil, rpc.ErrClosed
		}
		if seen {
			if progress != nil && job.Progress != lastProgress {
				lastProgress = job.Progress
				progress(job.Progress)
			}
			if job.Terminal() {
				return finishJob(method, job)
			}
		}
		select {
		case <-w.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func finishJob(method string, job rpc.Job) (json.RawMessage, error) {
	if job.State == rpc.JobSuccess {
		return job.Result, nil
	}
	return nil, &rpc.JobError{ID: job.ID, Method: method, State: job.State, Reason: job.Error}
}

func (c *Client) getJob(ctx context.Context, id int64) (rpc.Job, error) {
	raw, err := c.Call(ctx, rpc.MethodGetJobs, rpc.Filter("id", "=", id))
	if err != nil {
		return rpc.Job{}, err
	}
	var jobs []rpc.Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return rpc.Job{}, errors.Wrap(err, "failed to decode job list")
	}
	if len(jobs) == 0 {
		return rpc.Job{}, rpc.NotFound("job %d not found", id)
	}
	return jobs[0], nil
}

func (c *Client) ensureJobSubscription() error {
	c.mu.Lock()
	if c.jobsSub {
		c.mu.Unlock()
		return nil
	}
	c.jobsSub = true
	c.mu.Unlock()

	sub := &subscription{id: uuid.NewString(), name: rpc.MethodGetJobs, handle: c.handleJobEvent}
	if err := c.subscribe(sub); err != nil {
		c.mu.Lock()
		c.jobsSub = false
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Client) handleJobEvent(ev rpc.Event) {
	if ev.Msg == rpc.EventRemoved || len(ev.Fields) == 0 {
		return
	}
	var job rpc.Job
	if err := json.Unmarshal(ev.Fields, &job); err != nil {
		c.log.WithError(err).Debug("ignoring malformed job event")
		return
	}
	if job.ID == 0 {
		job.ID, _ = ev.IntID()
	}
	c.mu.Lock()
	w, ok := c.jobs[job.ID]
	c.mu.Unlock()
	if ok {
		w.update(job)
	}
}
