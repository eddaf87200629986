package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mdlayher/vsock"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/BaSui01/enclaveflow/internal/pool"
	"github.com/BaSui01/enclaveflow/internal/tlsutil"
)

// Supported networks.
const (
	NetworkVsock = "vsock"
	NetworkTCP   = "tcp"
)

// Handler turns one request frame into one response frame.
type Handler interface {
	Dispatch(ctx context.Context, frame []byte) []byte
	// Reject answers a frame that will not be dispatched.
	Reject(frame []byte, reason string) []byte
}

// Prioritizer is implemented by handlers with requests that must not queue
// behind the worker pool. Urgent frames are dispatched on the connection's
// read loop, so they only suit requests answered from memory.
type Prioritizer interface {
	Urgent(frame []byte) bool
}

// Config 传输服务器配置
type Config struct {
	// vsock 或 tcp
	Network string `yaml:"network" json:"network"`
	// tcp 监听地址
	Addr string `yaml:"addr" json:"addr"`
	// vsock 端口（CID 任意）
	VsockPort uint32 `yaml:"vsock_port" json:"vsock_port"`

	// 最大并发连接数
	MaxConnections int `yaml:"max_connections" json:"max_connections"`
	// 单帧上限
	MaxFrameBytes int `yaml:"max_frame_bytes" json:"max_frame_bytes"`
	// 单次写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// tcp 下可选 TLS
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file"`

	// 请求工作池
	Pool pool.GoroutinePoolConfig `yaml:"pool" json:"pool"`
}

// DefaultConfig 返回默认传输配置
func DefaultConfig() Config {
	return Config{
		Network:         NetworkVsock,
		Addr:            "127.0.0.1:7000",
		VsockPort:       5000,
		MaxConnections:  64,
		MaxFrameBytes:   DefaultMaxFrameBytes,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Pool:            pool.DefaultGoroutinePoolConfig(),
	}
}

// =============================================================================
// 🌐 传输服务器
// =============================================================================

// Server accepts host connections and serves framed requests.
type Server struct {
	config  Config
	handler Handler
	urgent  Prioritizer
	pool    *pool.GoroutinePool
	logger  *zap.Logger

	// base context of every dispatched request; cancelled when a graceful
	// shutdown runs out of time
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[*serverConn]struct{}
	closed   bool
	wg       sync.WaitGroup
	errCh    chan error
}

type serverConn struct {
	net.Conn
	writeMu  sync.Mutex
	inflight sync.WaitGroup
}

// NewServer creates a server. Nothing is listened on until Start or Serve.
func NewServer(handler Handler, config Config, logger *zap.Logger) *Server {
	def := DefaultConfig()
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = def.MaxFrameBytes
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = def.ShutdownTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "transport"))
	ctx, cancel := context.WithCancel(context.Background())
	urgent, _ := handler.(Prioritizer)
	return &Server{
		config:  config,
		handler: handler,
		urgent:  urgent,
		pool:    pool.NewGoroutinePool(config.Pool, logger),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[*serverConn]struct{}),
		errCh:   make(chan error, 1),
	}
}

// Listen opens the configured listener without serving it.
func (s *Server) Listen() (net.Listener, error) {
	switch s.config.Network {
	case NetworkVsock:
		l, err := vsock.Listen(s.config.VsockPort, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on vsock port %d: %w", s.config.VsockPort, err)
		}
		return l, nil
	case NetworkTCP, "":
		l, err := net.Listen("tcp", s.config.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
		}
		if s.config.TLSCertFile == "" {
			return l, nil
		}
		tlsConfig, err := tlsutil.ServerTLSConfig(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			l.Close()
			return nil, err
		}
		return tls.NewListener(l, tlsConfig), nil
	}
	return nil, fmt.Errorf("unsupported network %q", s.config.Network)
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	l, err := s.Listen()
	if err != nil {
		return err
	}
	go func() {
		if err := s.Serve(l); err != nil {
			s.logger.Error("transport server failed", zap.Error(err))
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Serve accepts connections on l until Shutdown. It returns nil after a
// shutdown and the accept error otherwise.
func (s *Server) Serve(l net.Listener) error {
	if s.config.MaxConnections > 0 {
		l = netutil.LimitListener(l, s.config.MaxConnections)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return errors.New("server is closed")
	}
	if s.listener != nil {
		s.mu.Unlock()
		l.Close()
		return errors.New("server already started")
	}
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("transport listening",
		zap.String("network", s.config.Network),
		zap.String("addr", l.Addr().String()))

	for {
		c, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		sc := &serverConn{Conn: c}
		if !s.track(sc) {
			c.Close()
			return nil
		}
		go s.serveConn(sc)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(c *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

// serveConn reads frames until the peer goes away, then waits for the
// connection's in-flight requests before closing it.
func (s *Server) serveConn(c *serverConn) {
	defer s.wg.Done()
	defer func() {
		c.inflight.Wait()
		c.Close()
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()

	remote := c.RemoteAddr().String()
	s.logger.Debug("connection opened", zap.String("remote", remote))

	for {
		frame, err := ReadFrame(c, s.config.MaxFrameBytes)
		if err != nil {
			switch {
			case errors.Is(err, ErrFrameTooLarge):
				// the stream cannot be resynchronised
				s.logger.Warn("oversized frame", zap.String("remote", remote), zap.Error(err))
				s.write(c, s.handler.Reject(nil, err.Error()))
			case errors.Is(err, io.EOF), s.isClosed():
			default:
				s.logger.Debug("connection read failed", zap.String("remote", remote), zap.Error(err))
			}
			return
		}

		if s.urgent != nil && s.urgent.Urgent(frame) {
			_ = s.write(c, s.handler.Dispatch(s.ctx, frame))
			continue
		}

		c.inflight.Add(1)
		err = s.pool.Submit(s.ctx, func(ctx context.Context) error {
			defer c.inflight.Done()
			return s.write(c, s.handler.Dispatch(ctx, frame))
		})
		if err != nil {
			c.inflight.Done()
			s.logger.Warn("request rejected", zap.String("remote", remote), zap.Error(err))
			s.write(c, s.handler.Reject(frame, "server busy"))
		}
	}
}

func (s *Server) write(c *serverConn, resp []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := WriteFrame(c, resp, s.config.MaxFrameBytes); err != nil {
		s.logger.Warn("response write failed", zap.String("remote", c.RemoteAddr().String()), zap.Error(err))
		return err
	}
	return nil
}

// =============================================================================
// 🛑 关闭
// =============================================================================

// Shutdown stops accepting, lets in-flight requests finish and closes every
// connection. Requests still running when ctx or the shutdown timeout ends
// are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	// unblock the read loops; responses can still be written
	for c := range s.conns {
		_ = c.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	s.logger.Info("shutting down transport")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.Warn("shutdown timed out, cancelling in-flight requests")
		s.cancel()
		<-done
	}
	s.cancel()
	s.pool.Close()

	s.logger.Info("transport stopped")
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// WaitForShutdown 等待关闭信号
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-s.errCh:
		s.logger.Error("server exited unexpectedly", zap.Error(err))
	}

	if err := s.Shutdown(context.Background()); err != nil {
		s.logger.Error("shutdown error", zap.Error(err))
	}
}

// Errors returns asynchronous server errors.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// PoolStats returns the request pool statistics.
func (s *Server) PoolStats() pool.GoroutinePoolStats {
	return s.pool.Stats()
}
