package ipc

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1jehuang/jcode-sub000/pkg/logger"
)

// Client is a thin connection to the jcoded server, used by jcodectl and
// any other frontend that wants to drive an agent session.
type Client struct {
	socketPath string

	connMu sync.Mutex
	conn   net.Conn
	enc    *Encoder
	dec    *Decoder

	reconnectEnabled bool
	reconnectDelay   time.Duration
	maxReconnects    int

	onDisconnect func()
}

// ClientOption is a functional option for Client.
type ClientOption func(*Client)

// WithSocketPath overrides the default socket/pipe path.
func WithSocketPath(path string) ClientOption {
	return func(c *Client) { c.socketPath = path }
}

// WithReconnect sets how Connect retries a failed dial: whether to retry,
// the fixed delay between attempts, and the attempt cap (0 means no cap).
// A connection that drops after Connect succeeded is not re-established:
// Recv reports the error, calls the onDisconnect callback, and leaves the
// Client disconnected.
func WithReconnect(enabled bool, delay time.Duration, maxAttempts int) ClientOption {
	return func(c *Client) {
		c.reconnectEnabled = enabled
		c.reconnectDelay = delay
		c.maxReconnects = maxAttempts
	}
}

// WithOnDisconnect sets a callback invoked when the connection drops.
func WithOnDisconnect(fn func()) ClientOption {
	return func(c *Client) { c.onDisconnect = fn }
}

// NewClient creates a Client, not yet connected.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		reconnectEnabled: true,
		reconnectDelay:   time.Second,
		maxReconnects:    10,
	}
	if runtime.GOOS == "windows" {
		c.socketPath = WindowsPipeName
	} else {
		c.socketPath = SocketPath
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the server, retrying per the configured reconnect policy.
func (c *Client) Connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return nil
	}

	var conn net.Conn
	var err error
	attempts := 0
	for {
		if runtime.GOOS == "windows" {
			conn, err = dialPipe(c.socketPath)
		} else {
			conn, err = net.Dial("unix", c.socketPath)
		}
		if err == nil {
			break
		}
		attempts++
		if !c.reconnectEnabled || (c.maxReconnects > 0 && attempts >= c.maxReconnects) {
			return fmt.Errorf("ipc: connect after %d attempts: %w", attempts, err)
		}
		logger.Warnf("ipc: connect failed, retrying in %v (attempt %d/%d): %v", c.reconnectDelay, attempts, c.maxReconnects, err)
		time.Sleep(c.reconnectDelay)
	}

	c.conn = conn
	c.enc = NewEncoder(conn)
	c.dec = NewDecoder(conn)
	return nil
}

// Close disconnects from the server.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Send writes a Request to the server, stamping a fresh ID if unset.
func (c *Client) Send(req *Request) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("ipc: not connected")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.enc.EncodeRequest(req)
}

// Recv blocks for the next ServerEvent from the server.
func (c *Client) Recv() (*ServerEvent, error) {
	c.connMu.Lock()
	dec := c.dec
	c.connMu.Unlock()
	if dec == nil {
		return nil, fmt.Errorf("ipc: not connected")
	}

	ev, err := dec.DecodeEvent()
	if err != nil {
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		if c.onDisconnect != nil {
			c.onDisconnect()
		}
		return nil, err
	}
	return ev, nil
}

// Events starts a goroutine relaying every ServerEvent from the
// connection onto the returned channel, closed when Recv errors.
func (c *Client) Events() <-chan ServerEvent {
	out := make(chan ServerEvent, 64)
	go func() {
		defer close(out)
		for {
			ev, err := c.Recv()
			if err != nil {
				return
			}
			out <- *ev
		}
	}()
	return out
}
