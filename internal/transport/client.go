package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/mdlayher/vsock"
	"go.uber.org/zap"

	"github.com/BaSui01/enclaveflow/types"
)

// ErrClientClosed is returned by Call after the connection is gone.
var ErrClientClosed = errors.New("client is closed")

// Client is the host side of a connection. Calls may be issued
// concurrently; responses are matched by request id.
type Client struct {
	conn     net.Conn
	maxFrame int
	logger   *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *types.Response
	err     error
	done    chan struct{}
}

type clientOptions struct {
	tlsConfig *tls.Config
	maxFrame  int
	logger    *zap.Logger
}

// ClientOption configures Dial.
type ClientOption func(*clientOptions)

// WithTLS dials tcp addresses over TLS.
func WithTLS(cfg *tls.Config) ClientOption {
	return func(o *clientOptions) { o.tlsConfig = cfg }
}

// WithClientMaxFrameBytes sets the frame limit for both directions.
func WithClientMaxFrameBytes(n int) ClientOption {
	return func(o *clientOptions) { o.maxFrame = n }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// Dial connects to an enclave. For vsock, addr is "cid:port".
func Dial(ctx context.Context, network, addr string, opts ...ClientOption) (*Client, error) {
	o := clientOptions{maxFrame: DefaultMaxFrameBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	var (
		conn net.Conn
		err  error
	)
	switch network {
	case NetworkVsock:
		cid, port, perr := parseVsockAddr(addr)
		if perr != nil {
			return nil, perr
		}
		conn, err = vsock.Dial(cid, port, nil)
	case NetworkTCP, "":
		if o.tlsConfig != nil {
			d := &tls.Dialer{Config: o.tlsConfig}
			conn, err = d.DialContext(ctx, "tcp", addr)
		} else {
			var d net.Dialer
			conn, err = d.DialContext(ctx, "tcp", addr)
		}
	default:
		return nil, fmt.Errorf("unsupported network %q", network)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, err)
	}
	return NewClient(conn, opts...), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts ...ClientOption) *Client {
	o := clientOptions{maxFrame: DefaultMaxFrameBytes}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	c := &Client{
		conn:     conn,
		maxFrame: o.maxFrame,
		logger:   o.logger.With(zap.String("component", "transport_client")),
		pending:  make(map[string]chan *types.Response),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func parseVsockAddr(addr string) (uint32, uint32, error) {
	cidText, portText, ok := strings.Cut(addr, ":")
	if !ok {
		return 0, 0, fmt.Errorf("vsock address %q must be cid:port", addr)
	}
	cid, err := strconv.ParseUint(cidText, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock cid %q: %w", cidText, err)
	}
	port, err := strconv.ParseUint(portText, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock port %q: %w", portText, err)
	}
	return uint32(cid), uint32(port), nil
}

// Call sends req and waits for the response with the same request id. An
// empty RequestID is replaced with a uuid.
func (c *Client) Call(ctx context.Context, req *types.Request) (*types.Response, error) {
	r := *req
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	body, err := json.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	ch := make(chan *types.Response, 1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	if _, dup := c.pending[r.RequestID]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("request %q is already in flight", r.RequestID)
	}
	c.pending[r.RequestID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err = WriteFrame(c.conn, body, c.maxFrame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(r.RequestID)
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.forget(r.RequestID)
		return nil, ctx.Err()
	case <-c.done:
		c.forget(r.RequestID)
		return nil, c.closedErr()
	}
}

// Invoke calls service/operation with payload encoded as JSON and decodes a
// successful response payload into out. A failed response is returned as a
// *types.Error.
func (c *Client) Invoke(ctx context.Context, service types.ServiceType, operation string, payload, out any) error {
	req := &types.Request{ServiceType: service, Operation: operation}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		req.Payload = raw
	}
	resp, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	if !resp.Success {
		return types.ParseWireMessage(resp.ErrorMessage)
	}
	if out == nil || len(resp.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Payload, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrClientClosed
}

func (c *Client) readLoop() {
	for {
		frame, err := ReadFrame(c.conn, c.maxFrame)
		if err != nil {
			c.fail(err)
			return
		}
		var resp types.Response
		if err := json.Unmarshal(frame, &resp); err != nil {
			c.logger.Warn("undecodable response", zap.Error(err))
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		if ok {
			delete(c.pending, resp.RequestID)
		} else if resp.RequestID == types.UnknownRequestID && len(c.pending) == 1 {
			// the server could not read our id; only one call can own it
			for id, only := range c.pending {
				ch, ok = only, true
				delete(c.pending, id)
			}
		}
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("response without caller", zap.String("request_id", resp.RequestID))
			continue
		}
		ch <- &resp
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if errors.Is(err, net.ErrClosed) {
		c.err = ErrClientClosed
	} else {
		c.err = fmt.Errorf("connection lost: %w", err)
	}
	close(c.done)
}

// Close closes the connection; pending calls fail with ErrClientClosed.
func (c *Client) Close() error {
	err := c.conn.Close()
	c.fail(net.ErrClosed)
	return err
}
