// Package middleware implements rpc.Caller over the management daemon's websocket protocol.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"apps-console/pkg/rpc"
)

const (
	methodLoginAPIKey = "auth.login_with_api_key"
	methodLogin       = "auth.login"

	subscriptionBuffer = 256
	handshakeTimeout   = 30 * time.Second
)

// Options configures Dial.
type Options struct {
	URL         string
	APIKey      string
	Username    string
	Password    string
	CallTimeout time.Duration
	Header      http.Header
	Dialer      *websocket.Dialer
	Logger      *logrus.Entry
}

type outMessage struct {
	ID      string   `json:"id,omitempty"`
	Msg     string   `json:"msg"`
	Method  string   `json:"method,omitempty"`
	Name    string   `json:"name,omitempty"`
	Params  []any    `json:"params,omitempty"`
	Version string   `json:"version,omitempty"`
	Support []string `json:"support,omitempty"`
}

type inMessage struct {
	Msg        string          `json:"msg"`
	ID         json.RawMessage `json:"id,omitempty"`
	Collection string          `json:"collection,omitempty"`
	Fields     json.RawMessage `json:"fields,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *rpc.Error      `json:"error,omitempty"`
	Session    string          `json:"session,omitempty"`
}

type response struct {
	result json.RawMessage
	err    error
}

type subscription struct {
	id   string
	name string
	ch   chan rpc.Event
	// handle, when set, receives events instead of ch.
	handle func(rpc.Event)
}

// Client is a single authenticated connection to the daemon.
type Client struct {
	conn        *websocket.Conn
	log         *logrus.Entry
	callTimeout time.Duration
	session     string

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan response
	subs    map[string]*subscription
	jobs    map[int64]*jobWaiter
	jobsSub bool
	closed  bool
	done    chan struct{}
}

// Dial connects, performs the protocol handshake and authenticates.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	conn, _, err := dialer.DialContext(ctx, opts.URL, opts.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", opts.URL)
	}

	c := &Client{
		conn:        conn,
		log:         log.WithField("component", "middleware"),
		callTimeout: opts.CallTimeout,
		pending:     map[string]chan response{},
		subs:        map[string]*subscription{},
		jobs:        map[int64]*jobWaiter{},
		done:        make(chan struct{}),
	}
	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	go c.readLoop()

	if err := c.login(ctx, opts); err != nil {
		c.Close()
		return nil, err
	}
	c.log.WithField("url", opts.URL).Debug("connected to management daemon")
	return c, nil
}

func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	if err := c.write(outMessage{Msg: "connect", Version: "1", Support: []string{"1"}}); err != nil {
		return errors.Wrap(err, "failed to send connect message")
	}
	for {
		var msg inMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return errors.Wrap(err, "failed to read connect reply")
		}
		switch msg.Msg {
		case "connected":
			c.session = msg.Session
			return nil
		case "failed":
			return errors.New("daemon refused protocol version 1")
		}
	}
}

func (c *Client) login(ctx context.Context, opts Options) error {
	var (
		res json.RawMessage
		err error
	)
	switch {
	case opts.APIKey != "":
		res, err = c.Call(ctx, methodLoginAPIKey, opts.APIKey)
	case opts.Username != "":
		res, err = c.Call(ctx, methodLogin, opts.Username, opts.Password)
	default:
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "login failed")
	}
	var ok bool
	if err := json.Unmarshal(res, &ok); err != nil || !ok {
		return rpc.ErrAuthFailed
	}
	return nil
}

// Session returns the session id assigned during the handshake.
func (c *Client) Session() string {
	return c.session
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close terminates the connection; pending calls fail with rpc.ErrClosed.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) write(msg outMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Call invokes method and waits for its result.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	if params == nil {
		params = []any{}
	}
	id := uuid.NewString()
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, rpc.ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.log.WithFields(logrus.Fields{"method": method, "id": id}).Debug("calling")
	if err := c.write(outMessage{ID: id, Msg: "method", Method: method, Params: params}); err != nil {
		return nil, errors.Wrapf(err, "failed to send %s", method)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, errors.Wrapf(res.err, "%s failed", method)
		}
		return res.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe streams events of collection name.
func (c *Client) Subscribe(ctx context.Context, name string) (<-chan rpc.Event, error) {
	sub := &subscription{id: uuid.NewString(), name: name, ch: make(chan rpc.Event, subscriptionBuffer)}
	if err := c.subscribe(sub); err != nil {
		return nil, err
	}
	go func() {
		select {
		case <-ctx.Done():
			c.unsubscribe(sub.id)
		case <-c.done:
		}
	}()
	return sub.ch, nil
}

func (c *Client) subscribe(sub *subscription) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return rpc.ErrClosed
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	if err := c.write(outMessage{ID: sub.id, Msg: "sub", Name: sub.name}); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return errors.Wrapf(err, "failed to subscribe to %s", sub.name)
	}
	return nil
}

func (c *Client) unsubscribe(id string) {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
		if sub.ch != nil {
			close(sub.ch)
		}
	}
	closed := c.closed
	c.mu.Unlock()
	if ok && !closed {
		if err := c.write(outMessage{ID: id, Msg: "unsub"}); err != nil {
			c.log.WithError(err).Debug("failed to unsubscribe")
		}
	}
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		var msg inMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Debug("read loop stopped")
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg inMessage) {
	switch msg.Msg {
	case "result":
		var id string
		_ = json.Unmarshal(msg.ID, &id)
		c.mu.Lock()
		ch, ok := c.pending[id]
		c.mu.Unlock()
		if !ok {
			return
		}
		if msg.Error != nil {
			ch <- response{err: msg.Error}
		} else {
			ch <- response{result: msg.Result}
		}
	case rpc.EventAdded, rpc.EventChanged, rpc.EventRemoved:
		ev := rpc.Event{Msg: msg.Msg, Collection: msg.Collection, ID: msg.ID, Fields: msg.Fields}
		c.mu.Lock()
		var targets []*subscription
		for _, sub := range c.subs {
			if sub.name == msg.Collection {
				targets = append(targets, sub)
			}
		}
		for _, sub := range targets {
			if sub.handle != nil {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
				c.log.WithField("collection", sub.name).Warn("subscriber is not keeping up, dropping event")
			}
		}
		c.mu.Unlock()
		for _, sub := range targets {
			if sub.handle != nil {
				sub.handle(ev)
			}
		}
	case "nosub":
		var id string
		_ = json.Unmarshal(msg.ID, &id)
		c.log.WithField("id", id).Warn("subscription rejected by daemon")
		c.mu.Lock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			if sub.ch != nil {
				close(sub.ch)
			}
			if sub.handle != nil {
				c.jobsSub = false
			}
		}
		c.mu.Unlock()
	case "ping":
		var id string
		_ = json.Unmarshal(msg.ID, &id)
		if err := c.write(outMessage{ID: id, Msg: "pong"}); err != nil {
			c.log.WithError(err).Debug("failed to answer ping")
		}
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		select {
		case ch <- response{err: rpc.ErrClosed}:
		default:
		}
		delete(c.pending, id)
	}
	for id, sub := range c.subs {
		if sub.ch != nil {
			close(sub.ch)
		}
		delete(c.subs, id)
	}
	for _, w := range c.jobs {
		w.abort()
	}
	close(c.done)
}
