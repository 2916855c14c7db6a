package relay

import (
	"log/slog"
	"sync"
)

// Client runs commands and transfers files over connections created by its
// Transport.
//
// Operations share one lazily created connection unless they ask for an
// exclusive one. Dest always uses its own connection. A Client is safe for
// concurrent use.
type Client struct {
	transport Transport
	config    ClientConfig
	logger    *slog.Logger
	registry  *registry

	mu     sync.Mutex
	shared *handle
	closed bool
}

// New returns a Client that connects through t. No connection is made until
// the first operation.
func New(t Transport, opts ...ClientOption) (*Client, error) {
	if t == nil {
		return nil, ErrTransportRequired
	}

	cfg := ClientConfig{
		Logger:       slog.Default(),
		IgnoreErrors: true,
	}

	for _, o := range opts {
		o(&cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		transport: t,
		config:    cfg,
		logger:    cfg.Logger.WithGroup("relay"),
		registry:  newRegistry(),
	}, nil
}

// Close closes every connection created by the client. Queued operations
// that have not started end with ErrConnectionClosed, and later operations
// fail with ErrClientClosed.
func (cl *Client) Close() error {
	cl.mu.Lock()
	if cl.closed {
		cl.mu.Unlock()

		return nil
	}

	cl.closed = true
	cl.shared = nil
	cl.mu.Unlock()

	cl.logger.Debug("closing client", "connections", cl.registry.len())

	return cl.registry.closeAll()
}

// Connections returns the IDs of the open connections in creation order.
func (cl *Client) Connections() []ConnID {
	return cl.registry.ids()
}

// State returns the state of connection id. ok is false once the connection
// has been removed.
func (cl *Client) State(id ConnID) (ConnectionState, bool) {
	h, ok := cl.registry.get(id)
	if !ok {
		return StateClosed, false
	}

	return h.State(), true
}

// obtain returns the shared connection, creating it if needed, or a new
// exclusive one. Either way the connection has started dialing.
func (cl *Client) obtain(exclusive bool) (*handle, error) {
	cl.mu.Lock()
	if cl.closed {
		cl.mu.Unlock()

		return nil, ErrClientClosed
	}

	h := cl.shared
	if exclusive || h == nil || h.State() == StateClosed {
		h = cl.registry.add(func(id ConnID) *handle {
			return newHandle(id, cl.transport, cl.logger, cl.config.OnState, cl.registry.remove)
		})

		if !exclusive {
			cl.shared = h
		}
	}
	cl.mu.Unlock()

	h.connect()

	return h, nil
}

// start subscribes s to h and queues run behind the connection becoming
// ready. run executes on its own goroutine; when it returns the stream is
// finished.
func (cl *Client) start(h *handle, s *Stream, exclusive bool, run func(Conn)) {
	if !h.subscribe(s) {
		s.fail(h.closedErr())
		cl.finish(h, s, exclusive)

		return
	}

	err := h.whenReady(func(conn Conn) {
		if !s.begin() {
			return
		}

		go func() {
			defer cl.finish(h, s, exclusive)

			run(conn)
		}()
	})
	if err != nil {
		s.fail(err)
		cl.finish(h, s, exclusive)
	}
}

// finish detaches s from h, closes h if the operation owned it, and ends s.
func (cl *Client) finish(h *handle, s *Stream, exclusive bool) {
	h.unsubscribe(s)

	if exclusive {
		if err := h.close(); err != nil {
			h.logger.Debug("close exclusive connection", "op", s.name, "error", err)
		}
	}

	s.end()
}
