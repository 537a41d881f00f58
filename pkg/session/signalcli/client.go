package signalcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"presagebridge/pkg/ids"
	"presagebridge/pkg/jsoncodec"
)

var ErrClientClosed = errors.New("signalcli: connection closed")

// Codes returned by the daemon for calls it does not understand.
const codeMethodNotFound = -32601

// RPCError is an error object returned by the daemon.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("signalcli: rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type frame struct {
	ID     string               `json:"id,omitempty"`
	Method string               `json:"method,omitempty"`
	Params jsoncodec.RawMessage `json:"params,omitempty"`
	Result jsoncodec.RawMessage `json:"result,omitempty"`
	Error  *RPCError            `json:"error,omitempty"`
}

// Notification is a server-initiated message such as "receive".
type Notification struct {
	Method string
	Params jsoncodec.RawMessage
}

type response struct {
	result jsoncodec.RawMessage
	err    error
}

// Client speaks line-delimited JSON-RPC 2.0 with a signal-cli daemon.
type Client struct {
	conn net.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan response
	err     error

	notifications chan Notification
	done          chan struct{}
	closeOnce     sync.Once
}

// Dial connects to the daemon's socket. network is "unix" or "tcp".
func Dial(ctx context.Context, network, address string, log *slog.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("signalcli: dial %s %s: %w", network, address, err)
	}
	return NewClient(conn, log), nil
}

// NewClient takes ownership of conn and starts reading from it.
func NewClient(conn net.Conn, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		conn:          conn,
		log:           log.With("component", "signalcli"),
		pending:       make(map[string]chan response),
		notifications: make(chan Notification, 64),
		done:          make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Call sends a request and decodes the result into result, which may be nil.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	id := ids.Request()
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := jsoncodec.Encode(c.conn, request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("signalcli: sending %s: %w", method, err)
	}
	c.log.Debug("RPC request sent", "method", method, "id", id)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-ch:
		if resp.err != nil {
			return resp.err
		}
		if result == nil || len(resp.result) == 0 {
			return nil
		}
		if err := jsoncodec.Unmarshal(resp.result, result); err != nil {
			return fmt.Errorf("signalcli: decoding %s result: %w", method, err)
		}
		return nil
	}
}

// Notifications is closed when the connection ends.
func (c *Client) Notifications() <-chan Notification {
	return c.notifications
}

// Err reports why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.notifications)

	reader := jsoncodec.NewLineReader(c.conn)
	for {
		var f frame
		err := reader.Next(&f)
		if errors.Is(err, jsoncodec.ErrMalformed) {
			c.log.Warn("Skipping malformed frame", "error", err)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && c.isOpen() {
				c.log.Warn("Connection read failed", "error", err)
			}
			c.fail(ErrClientClosed)
			return
		}

		switch {
		case f.ID != "" && f.Method == "":
			c.resolve(f)
		case f.Method != "":
			select {
			case c.notifications <- Notification{Method: f.Method, Params: f.Params}:
			case <-c.done:
				c.fail(ErrClientClosed)
				return
			}
		default:
			c.log.Debug("Ignoring frame without id or method")
		}
	}
}

func (c *Client) resolve(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	delete(c.pending, f.ID)
	c.mu.Unlock()
	if !ok {
		c.log.Debug("Response for unknown request", "id", f.ID)
		return
	}

	if f.Error != nil {
		ch <- response{err: f.Error}
		return
	}
	ch <- response{result: f.Result}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	for id, ch := range c.pending {
		ch <- response{err: err}
		delete(c.pending, id)
	}
}

func (c *Client) isOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}
