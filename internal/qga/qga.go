// Package qga is a minimal client for the QEMU guest agent.
//
// The agent speaks newline-delimited JSON over a virtio-serial channel that
// QEMU exposes on the host as a unix socket. Every request has the form
//
//	{"execute": "guest-exec", "arguments": {...}}
//
// and is answered by exactly one of
//
//	{"return": ...}
//	{"error": {"class": "GenericError", "desc": "..."}}
//
// Only the commands the harness needs are implemented: guest-ping,
// guest-exec and guest-exec-status.
package qga

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Error is an error reported by the guest agent.
type Error struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("guest agent: %s: %s", e.Class, e.Desc)
}

type request struct {
	Execute   string `json:"execute"`
	Arguments any    `json:"arguments,omitempty"`
}

type response struct {
	Return json.RawMessage `json:"return"`
	Error  *Error          `json:"error"`
}

// Client issues requests to one guest agent connection.
// Requests are serialized; the agent answers strictly in order.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{conn: conn, reader: bufio.NewReader(conn)}
}

// Dial connects to the agent socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial guest agent: %w", err)
	}
	return NewClient(conn), nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one request and decodes the "return" payload into out.
// A nil out discards the payload.
func (c *Client) call(ctx context.Context, command string, args any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
	} else {
		_ = c.conn.SetDeadline(time.Time{})
	}

	// Unblock pending I/O when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetDeadline(time.Unix(1, 0))
		case <-stop:
		}
	}()

	payload, err := json.Marshal(request{Execute: command, Arguments: args})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", command, err)
	}
	payload = append(payload, '\n')
	if _, err := c.conn.Write(payload); err != nil {
		return c.wrapIOError(ctx, command, err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return c.wrapIOError(ctx, command, err)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("%s: decode response: %w", command, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil || len(resp.Return) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Return, out); err != nil {
		return fmt.Errorf("%s: decode return value: %w", command, err)
	}
	return nil
}

func (c *Client) wrapIOError(ctx context.Context, command string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", command, ctxErr)
	}
	return fmt.Errorf("%s: %w", command, err)
}

// Ping checks that the agent is up and responding.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "guest-ping", nil, nil)
}

type execArgs struct {
	Path          string   `json:"path"`
	Arg           []string `json:"arg,omitempty"`
	Env           []string `json:"env,omitempty"`
	CaptureOutput bool     `json:"capture-output"`
}

// Exec starts path with args in the guest and returns the guest PID.
// Output is captured and returned by ExecStatus once the process exits.
func (c *Client) Exec(ctx context.Context, path string, args []string, env []string) (int64, error) {
	var ret struct {
		PID int64 `json:"pid"`
	}
	err := c.call(ctx, "guest-exec", execArgs{
		Path:          path,
		Arg:           args,
		Env:           env,
		CaptureOutput: true,
	}, &ret)
	if err != nil {
		return 0, err
	}
	return ret.PID, nil
}

// ExecStatus is the state of a process started by Exec.
type ExecStatus struct {
	Exited   bool
	ExitCode int64
	Signal   int64
	Stdout   []byte
	Stderr   []byte
}

type execStatusReturn struct {
	Exited   bool   `json:"exited"`
	ExitCode int64  `json:"exitcode"`
	Signal   int64  `json:"signal"`
	OutData  string `json:"out-data"`
	ErrData  string `json:"err-data"`
}

// ExecStatus polls the state of pid. Captured output is only present once
// Exited is true.
func (c *Client) ExecStatus(ctx context.Context, pid int64) (*ExecStatus, error) {
	var ret execStatusReturn
	if err := c.call(ctx, "guest-exec-status", map[string]int64{"pid": pid}, &ret); err != nil {
		return nil, err
	}

	stdout, err := base64.StdEncoding.DecodeString(ret.OutData)
	if err != nil {
		return nil, fmt.Errorf("guest-exec-status: decode stdout: %w", err)
	}
	stderr, err := base64.StdEncoding.DecodeString(ret.ErrData)
	if err != nil {
		return nil, fmt.Errorf("guest-exec-status: decode stderr: %w", err)
	}

	return &ExecStatus{
		Exited:   ret.Exited,
		ExitCode: ret.ExitCode,
		Signal:   ret.Signal,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}

// Wait polls ExecStatus every interval until pid exits or ctx ends.
// A process killed by a signal reports ExitCode 128+signal.
func (c *Client) Wait(ctx context.Context, pid int64, interval time.Duration) (*ExecStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := c.ExecStatus(ctx, pid)
		if err != nil {
			return nil, err
		}
		if st.Exited {
			if st.Signal != 0 && st.ExitCode == 0 {
				st.ExitCode = 128 + st.Signal
			}
			return st, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
