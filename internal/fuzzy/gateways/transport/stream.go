// Package transport provides the network acceptor for the fuzzy storage
// daemon. It owns socket management and frame completion, delegating the
// command semantics to the service layer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/haukened/fuzzystore/internal/fuzzy/common/log"
	"github.com/haukened/fuzzystore/internal/fuzzy/domain"
	"github.com/haukened/fuzzystore/internal/fuzzy/gateways/wire"
)

// CommandHandler is how the service layer receives decoded commands.
// The returned verdict becomes the OK/ERR reply.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd domain.Command) bool
}

// StreamTransport accepts TCP or UNIX socket connections and runs the
// one-command-per-connection session protocol: read exactly one frame,
// reply, close.
type StreamTransport struct {
	network   string
	addr      string
	codec     wire.Codec
	logger    log.Logger
	ioTimeout time.Duration
	maxConns  int

	// Synchronization for graceful shutdown
	mu       sync.RWMutex
	running  bool
	listener net.Listener
	sessions sync.WaitGroup
}

// Options configures a StreamTransport.
type Options struct {
	Network   string // "tcp" or "unix"
	Addr      string
	Codec     wire.Codec
	Logger    log.Logger
	IOTimeout time.Duration
	MaxConns  int
}

// New creates a StreamTransport from options.
func New(opts Options) *StreamTransport {
	return &StreamTransport{
		network:   opts.Network,
		addr:      opts.Addr,
		codec:     opts.Codec,
		logger:    opts.Logger,
		ioTimeout: opts.IOTimeout,
		maxConns:  opts.MaxConns,
	}
}

// Start binds the listening socket and begins accepting sessions.
func (t *StreamTransport) Start(ctx context.Context, handler CommandHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("transport already running")
	}

	listener, err := net.Listen(t.network, t.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s socket on %s: %w", t.network, t.addr, err)
	}
	if t.maxConns > 0 {
		listener = netutil.LimitListener(listener, t.maxConns)
	}

	t.listener = listener
	t.running = true

	t.logger.Info(map[string]any{
		"transport": t.network,
		"address":   listener.Addr().String(),
	}, "fuzzy transport started")

	go t.acceptLoop(ctx, handler)

	return nil
}

// Stop closes the listening socket so no further sessions are accepted.
// In-flight sessions keep running; use Drain to wait for them.
func (t *StreamTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false

	var closeErr error
	if t.listener != nil {
		closeErr = t.listener.Close()
		if closeErr != nil {
			t.logger.Warn(map[string]any{
				"error": closeErr.Error(),
			}, "error closing listener")
		}
	}

	t.logger.Info(map[string]any{
		"transport": t.network,
		"address":   t.addr,
	}, "fuzzy transport stopped")

	return closeErr
}

// Drain waits for in-flight sessions to finish, up to timeout. It
// returns true when everything finished in time.
func (t *StreamTransport) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Address returns the bound address when running, the configured address
// otherwise.
func (t *StreamTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.listener != nil {
		return t.listener.Addr().String()
	}
	return t.addr
}

// acceptLoop accepts connections until the listener closes.
func (t *StreamTransport) acceptLoop(ctx context.Context, handler CommandHandler) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.RLock()
			running := t.running
			t.mu.RUnlock()

			if !running || errors.Is(err, net.ErrClosed) {
				return // normal shutdown
			}
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn(map[string]any{
				"error": err.Error(),
			}, "accept failed")
			continue
		}

		t.logger.Debug(map[string]any{
			"network": conn.RemoteAddr().Network(),
			"client":  conn.RemoteAddr().String(),
		}, "accepted connection")

		t.sessions.Add(1)
		go t.handleSession(ctx, conn, handler)
	}
}

// handleSession drives one connection through the session state machine:
// read one full frame, dispatch, reply, close. Short reads, timeouts and
// socket errors end the session silently.
func (t *StreamTransport) handleSession(ctx context.Context, conn net.Conn, handler CommandHandler) {
	defer t.sessions.Done()
	defer conn.Close()

	if t.ioTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.ioTimeout))
	}

	buf := make([]byte, wire.FrameSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		// client went away mid-frame or idled past the deadline
		t.logger.Debug(map[string]any{
			"client": conn.RemoteAddr().String(),
			"error":  err.Error(),
		}, "session closed before frame completion")
		return
	}

	cmd, err := t.codec.DecodeCommand(buf)
	if err != nil {
		t.logger.Debug(map[string]any{
			"client": conn.RemoteAddr().String(),
			"error":  err.Error(),
		}, "failed to decode command frame")
		return
	}

	ok := false
	if cmd.Type.IsValid() {
		ok = handler.HandleCommand(ctx, cmd)
	} else {
		t.logger.Debug(map[string]any{
			"client": conn.RemoteAddr().String(),
			"cmd":    uint8(cmd.Type),
		}, "unknown command")
	}

	if _, err := conn.Write(t.codec.EncodeReply(ok)); err != nil {
		t.logger.Error(map[string]any{
			"client": conn.RemoteAddr().String(),
			"error":  err.Error(),
		}, "error while writing reply")
	}
}
