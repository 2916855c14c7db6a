package relay

import (
	"context"
	"log/slog"
	"sync"
)

// ConnID identifies a connection within one Client. IDs increase monotonically
// and are never reused.
type ConnID uint64

// ConnectionState is the lifecycle state of a connection.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateReady      ConnectionState = "ready"
	StateClosed     ConnectionState = "closed"
)

func (s ConnectionState) String() string {
	return string(s)
}

// StateCallback is called after a connection changes state.
// It runs on the goroutine that caused the change and must not block.
type StateCallback func(id ConnID, from, to ConnectionState)

// listener receives connection-level events on behalf of an operation.
type listener interface {
	connError(err error)
	connClosed()
}

// handle wraps one transport connection with its readiness state and the
// queue of actions waiting for it.
type handle struct {
	id        ConnID
	transport Transport
	logger    *slog.Logger
	callbacks []StateCallback
	onRemove  func(ConnID)

	ctx    context.Context //nolint:containedctx // cancelled on close; parent of every channel open
	cancel context.CancelFunc

	mu        sync.Mutex
	state     ConnectionState
	queue     []func(Conn)
	flushing  bool
	conn      Conn
	closing   bool
	cause     error // why the connection ended on its own, if it did
	listeners map[listener]struct{}
}

func newHandle(id ConnID, t Transport, logger *slog.Logger, callbacks []StateCallback, onRemove func(ConnID)) *handle {
	ctx, cancel := context.WithCancel(context.Background())

	return &handle{
		id:        id,
		transport: t,
		logger:    logger.With("conn", uint64(id)),
		callbacks: callbacks,
		onRemove:  onRemove,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		listeners: make(map[listener]struct{}),
	}
}

// State returns the current state.
func (h *handle) State() ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// connect starts dialing. Calling it while connecting, ready or closed is a no-op.
func (h *handle) connect() {
	h.mu.Lock()
	if h.state != StateIdle {
		h.mu.Unlock()

		return
	}

	h.state = StateConnecting
	h.mu.Unlock()

	h.notify(StateIdle, StateConnecting)
	h.logger.Debug("connecting")

	go h.dial()
}

func (h *handle) dial() {
	conn, err := h.transport.Connect(h.ctx)
	if err != nil {
		if h.ctx.Err() != nil {
			h.logger.Debug("connect abandoned", "error", err)
		} else {
			h.logger.Error("connect failed", "error", err)
		}

		h.lost(&TransportError{Op: "connect", Err: err})
		_ = h.shutdown(false)

		return
	}

	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()

		_ = conn.Close()

		return
	}

	h.conn = conn
	h.state = StateReady
	h.flushing = true
	h.mu.Unlock()

	h.logger.Info("ready")
	h.notify(StateConnecting, StateReady)

	go h.watch(conn)

	h.flush()
}

// watch waits for the connection to end on its own and tears the handle down.
func (h *handle) watch(conn Conn) {
	err := conn.Wait()

	h.mu.Lock()
	closing := h.closing
	h.mu.Unlock()

	if err != nil && !closing {
		h.logger.Warn("connection lost", "error", err)
		h.lost(&TransportError{Op: "connection", Err: err})
	}

	_ = h.shutdown(false)
}

// flush runs queued actions in FIFO order until the queue is empty. Actions
// queued while the flush is running are picked up by the same flush.
func (h *handle) flush() {
	for {
		h.mu.Lock()
		if h.state != StateReady || len(h.queue) == 0 {
			h.flushing = false
			h.mu.Unlock()

			return
		}

		fn := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		conn := h.conn
		h.mu.Unlock()

		fn(conn)
	}
}

// whenReady runs fn once the connection is ready. If it already is and no
// flush is pending, fn runs on the calling goroutine before whenReady returns.
// Returns the reason the handle closed, without queueing fn, if it is closed.
func (h *handle) whenReady(fn func(Conn)) error {
	h.mu.Lock()

	switch {
	case h.state == StateClosed:
		err := h.closedErrLocked()
		h.mu.Unlock()

		return err
	case h.state == StateReady && !h.flushing && len(h.queue) == 0:
		conn := h.conn
		h.mu.Unlock()

		fn(conn)

		return nil
	default:
		h.queue = append(h.queue, fn)
		h.mu.Unlock()

		return nil
	}
}

// await blocks until the connection is ready, s ends or is detached, or the
// handle closes. Closing drops the queued wake-up, so the handle context is
// watched as well.
func (h *handle) await(s *Stream) (Conn, error) {
	ready := make(chan Conn, 1)

	if err := h.whenReady(func(conn Conn) { ready <- conn }); err != nil {
		return nil, err
	}

	select {
	case conn := <-ready:
		return conn, nil
	case <-s.Done():
		return nil, ErrConnectionClosed
	case <-s.detached:
		return nil, h.closedErr()
	case <-h.ctx.Done():
		return nil, h.closedErr()
	}
}

func (h *handle) subscribe(l listener) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateClosed {
		return false
	}

	h.listeners[l] = struct{}{}

	return true
}

func (h *handle) unsubscribe(l listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()
}

// lost records err as the reason the connection ended and reports it to
// every listener.
func (h *handle) lost(err error) {
	h.mu.Lock()
	if h.cause == nil {
		h.cause = err
	}
	h.mu.Unlock()

	h.broadcastError(err)
}

// closedErr is what an operation arriving after shutdown is told.
func (h *handle) closedErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.closedErrLocked()
}

func (h *handle) closedErrLocked() error {
	if h.cause != nil {
		return h.cause
	}

	return ErrConnectionClosed
}

func (h *handle) broadcastError(err error) {
	for _, l := range h.snapshotListeners() {
		l.connError(err)
	}
}

func (h *handle) snapshotListeners() []listener {
	h.mu.Lock()
	defer h.mu.Unlock()

	ls := make([]listener, 0, len(h.listeners))
	for l := range h.listeners {
		ls = append(ls, l)
	}

	return ls
}

// close discards pending actions, closes the transport connection and
// removes the handle from its registry. Safe to call more than once.
func (h *handle) close() error {
	return h.shutdown(true)
}

func (h *handle) shutdown(closeConn bool) error {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()

		return nil
	}

	from := h.state
	h.state = StateClosed
	h.closing = h.closing || closeConn
	h.queue = nil
	h.flushing = false
	conn := h.conn

	listeners := make([]listener, 0, len(h.listeners))
	for l := range h.listeners {
		listeners = append(listeners, l)
	}

	h.listeners = make(map[listener]struct{})
	h.mu.Unlock()

	h.cancel()

	var err error
	if closeConn && conn != nil {
		err = conn.Close()
	}

	if h.onRemove != nil {
		h.onRemove(h.id)
	}

	h.logger.Info("closed")
	h.notify(from, StateClosed)

	for _, l := range listeners {
		l.connClosed()
	}

	return err
}

func (h *handle) notify(from, to ConnectionState) {
	for _, cb := range h.callbacks {
		cb(h.id, from, to)
	}
}
