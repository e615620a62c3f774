// Package rpc defines the boundary between the console and the management daemon: method names,
// subscription events and the Caller interface implemented by the websocket client and the local
// Helm backend.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Methods exposed by the management daemon.
const (
	MethodKubernetesConfig  = "kubernetes.config"
	MethodKubernetesUpdate  = "kubernetes.update"
	MethodServiceStarted    = "service.started"
	MethodPoolQuery         = "pool.query"
	MethodCatalogQuery      = "catalog.query"
	MethodReleaseQuery      = "chart.release.query"
	MethodReleaseCreate     = "chart.release.create"
	MethodReleaseUpdate     = "chart.release.update"
	MethodReleaseScale      = "chart.release.scale"
	MethodReleaseUpgrade    = "chart.release.upgrade"
	MethodReleaseRollback   = "chart.release.rollback"
	MethodReleaseDelete     = "chart.release.delete"
	MethodPodConsoleChoices = "chart.release.pod_console_choices"
	MethodImagePull         = "container.image.pull"
	MethodGenerateToken     = "auth.generate_token"
	MethodGetJobs           = "core.get_jobs"
)

// TopicReleases is the collection carrying release status changes.
const TopicReleases = "chart.release.query"

// Subscription message kinds.
const (
	EventAdded   = "added"
	EventChanged = "changed"
	EventRemoved = "removed"
)

// Caller issues remote calls and subscriptions against the management daemon.
type Caller interface {
	// Call invokes a plain method and returns its raw result.
	Call(ctx context.Context, method string, params ...any) (json.RawMessage, error)
	// CallJob invokes a job method and blocks until the job reaches a terminal state.
	// progress may be nil.
	CallJob(ctx context.Context, method string, progress func(JobProgress), params ...any) (json.RawMessage, error)
	// Subscribe streams events of the named collection until ctx ends or the connection drops,
	// at which point the channel is closed.
	Subscribe(ctx context.Context, name string) (<-chan Event, error)
}

// Event is a single push notification of a subscribed collection.
type Event struct {
	Msg        string          `json:"msg"`
	Collection string          `json:"collection"`
	ID         json.RawMessage `json:"id,omitempty"`
	Fields     json.RawMessage `json:"fields,omitempty"`
}

// StringID returns the event id as a string whether it was sent as a JSON string or number.
func (e Event) StringID() string {
	if len(e.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(e.ID, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(e.ID))
}

// IntID returns the event id as an integer, as used by job events.
func (e Event) IntID() (int64, bool) {
	n, err := strconv.ParseInt(e.StringID(), 10, 64)
	return n, err == nil
}

// JobProgress is the progress block reported by a running job.
type JobProgress struct {
	Percent     float64 `json:"percent"`
	Description string  `json:"description"`
}

// Job states reported by core.get_jobs.
const (
	JobWaiting = "WAITING"
	JobRunning = "RUNNING"
	JobSuccess = "SUCCESS"
	JobFailed  = "FAILED"
	JobAborted = "ABORTED"
)

// Job is the daemon's view of a long-running method call.
type Job struct {
	ID       int64           `json:"id"`
	Method   string          `json:"method"`
	State    string          `json:"state"`
	Progress JobProgress     `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Terminal reports whether the job has finished.
func (j Job) Terminal() bool {
	switch j.State {
	case JobSuccess, JobFailed, JobAborted:
		return true
	}
	return false
}

// Filter builds a single-condition query filter list, e.g. [["id", "=", "plex"]].
func Filter(field, op string, value any) []any {
	return []any{[]any{field, op, value}}
}

// QueryOptions is the options argument accepted by query methods.
type QueryOptions struct {
	Extra map[string]any `json:"extra,omitempty"`
}

func (o QueryOptions) String() string {
	return fmt.Sprintf("extra=%v", o.Extra)
}
