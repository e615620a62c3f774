// Package rpctest provides an in-memory rpc.Caller for tests.
package rpctest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"apps-console/pkg/rpc"
)

// Handler answers a single call.
type Handler func(params []any) (any, error)

// Call records one invocation.
type Call struct {
	Method string
	Params []any
	Job    bool
}

// Caller is a scriptable rpc.Caller. Handlers are keyed by method name; unknown methods fail.
type Caller struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	subs     map[string][]chan rpc.Event
	// Progress, when set, is reported once to every job's progress callback.
	Progress *rpc.JobProgress
	// Gate, when set, blocks every job until it is closed.
	Gate chan struct{}
}

// New returns an empty fake caller.
func New() *Caller {
	return &Caller{
		handlers: map[string]Handler{},
		subs:     map[string][]chan rpc.Event{},
	}
}

// Handle registers a handler for method.
func (c *Caller) Handle(method string, h Handler) *Caller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[method] = h
	return c
}

// Return registers a canned result for method.
func (c *Caller) Return(method string, result any) *Caller {
	return c.Handle(method, func([]any) (any, error) { return result, nil })
}

// Fail registers a canned error for method.
func (c *Caller) Fail(method string, err error) *Caller {
	return c.Handle(method, func([]any) (any, error) { return nil, err })
}

// Calls returns the recorded invocations.
func (c *Caller) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallsTo returns the recorded invocations of method.
func (c *Caller) CallsTo(method string) []Call {
	var out []Call
	for _, call := range c.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (c *Caller) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.invoke(ctx, method, false, params)
}

func (c *Caller) CallJob(ctx context.Context, method string, progress func(rpc.JobProgress), params ...any) (json.RawMessage, error) {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if progress != nil && c.Progress != nil {
		progress(*c.Progress)
	}
	return c.invoke(ctx, method, true, params)
}

func (c *Caller) invoke(ctx context.Context, method string, job bool, params []any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.calls = append(c.calls, Call{Method: method, Params: params, Job: job})
	h, ok := c.handlers[method]
	c.mu.Unlock()
	if !ok {
		return nil, &rpc.Error{Code: rpc.CodeNotSupported, Reason: fmt.Sprintf("no handler for %s", method)}
	}
	res, err := h(params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

func (c *Caller) Subscribe(ctx context.Context, name string) (<-chan rpc.Event, error) {
	ch := make(chan rpc.Event, 16)
	c.mu.Lock()
	c.subs[name] = append(c.subs[name], ch)
	c.mu.Unlock()
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subs[name]
		for i, s := range subs {
			if s == ch {
				c.subs[name] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch, nil
}

// Subscribers returns the number of live subscriptions to name.
func (c *Caller) Subscribers(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[name])
}

// Publish delivers a changed event with the given fields to every subscriber of name.
func (c *Caller) Publish(name, id string, fields any) {
	rawID, _ := json.Marshal(id)
	rawFields, _ := json.Marshal(fields)
	ev := rpc.Event{Msg: rpc.EventChanged, Collection: name, ID: rawID, Fields: rawFields}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.subs[name] {
		ch <- ev
	}
}
