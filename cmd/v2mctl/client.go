package main

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/zarvent/v2m/internal/ipc"
)

// client is a short-lived connection to the daemon's control socket. Every
// one-shot command dials, sends a single request, reads a single response,
// and closes — the daemon does not expect a client to linger outside of
// SUBSCRIBE_EVENTS sessions.
type client struct {
	socketPath string
}

func newClient(paths ipc.RuntimePaths) *client {
	return &client{socketPath: paths.SocketPath}
}

func (c *client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect to v2m daemon at %s: %w (is v2md running?)", c.socketPath, err)
	}
	return conn, nil
}

// call sends one request and waits for the matching response.
func (c *client) call(cmd ipc.Command, data interface{}) (ipc.Response, error) {
	conn, err := c.dial()
	if err != nil {
		return ipc.Response{}, err
	}
	defer conn.Close()

	req := ipc.Request{Cmd: cmd}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return ipc.Response{}, fmt.Errorf("encode request payload: %w", err)
		}
		req.Data = raw
	}

	if err := ipc.WriteFrame(conn, req); err != nil {
		return ipc.Response{}, fmt.Errorf("send request: %w", err)
	}

	resp, err := ipc.ReadResponse(conn)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

// decodeData unmarshals a Response's Data payload into v, treating an empty
// payload as a no-op rather than an error.
func decodeData(r ipc.Response, v interface{}) error {
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// subscribe opens a long-lived connection and streams decoded events until
// the connection drops or ctx-equivalent caller stops reading. The returned
// channel is closed when the connection ends; the caller is responsible for
// closing the net.Conn via the returned closer.
func (c *client) subscribe() (<-chan ipc.Response, func() error, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, nil, err
	}

	req := ipc.Request{Cmd: ipc.CmdSubscribe}
	if err := ipc.WriteFrame(conn, req); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("send subscribe: %w", err)
	}

	events := make(chan ipc.Response, 32)
	go func() {
		defer close(events)
		for {
			resp, err := ipc.ReadResponse(conn)
			if err != nil {
				return
			}
			events <- resp
		}
	}()

	return events, conn.Close, nil
}
