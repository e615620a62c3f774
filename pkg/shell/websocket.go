package shell

import (
	"context"
	"encoding/json"
	"io"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// TokenSource issues the short-lived token the shell endpoint authenticates with.
type TokenSource func(ctx context.Context) (string, error)

// WebsocketAttacher opens the daemon's shell endpoint and pipes the terminal through it.
type WebsocketAttacher struct {
	URL    string
	Token  TokenSource
	Dialer *websocket.Dialer
	Stdio  Stdio
	Log    *logrus.Entry
}

type shellOptions struct {
	ChartReleaseName string `json:"chart_release_name"`
	PodName          string `json:"pod_name"`
	ContainerName    string `json:"container_name,omitempty"`
	Command          string `json:"command"`
}

type shellAuth struct {
	Token   string       `json:"token"`
	Options shellOptions `json:"options"`
}

type shellReply struct {
	Msg string `json:"msg"`
	ID  string `json:"id,omitempty"`
}

func (w *WebsocketAttacher) Attach(ctx context.Context, t Target) error {
	token, err := w.Token(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to generate shell token")
	}
	dialer := w.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, w.URL, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", w.URL)
	}
	defer conn.Close()

	if err := conn.WriteJSON(shellAuth{Token: token, Options: shellOptions{
		ChartReleaseName: t.Release,
		PodName:          t.Pod,
		ContainerName:    t.Container,
		Command:          t.Command,
	}}); err != nil {
		return errors.Wrap(err, "failed to send shell options")
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return errors.Wrap(err, "shell handshake failed")
	}
	var reply shellReply
	if err := json.Unmarshal(data, &reply); err != nil || reply.Msg != "connected" {
		return errors.Errorf("shell handshake rejected: %s", string(data))
	}
	if w.Log != nil {
		w.Log.WithFields(logrus.Fields{"release": t.Release, "pod": t.Pod}).Debug("Shell connected")
	}

	restore, err := w.Stdio.raw()
	if err != nil {
		return errors.Wrap(err, "failed to set terminal to raw mode")
	}
	defer restore()

	return pipe(ctx, conn, w.Stdio)
}

// pipe copies between the connection and stdio until the remote side closes or ctx ends.
func pipe(ctx context.Context, conn *websocket.Conn, stdio Stdio) error {
	done := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err = nil
				}
				done <- err
				return
			}
			if _, err := stdio.Out.Write(data); err != nil {
				done <- err
				return
			}
		}
	}()
	if stdio.In != nil {
		go func() {
			buf := make([]byte, 1024)
			for {
				n, err := stdio.In.Read(buf)
				if n > 0 {
					if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
						return
					}
				}
				if err != nil {
					if err == io.EOF {
						_ = conn.WriteMessage(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					}
					return
				}
			}
		}()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
}
