package relay

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newTestHandle(t *testing.T, tr Transport, callbacks ...StateCallback) (*handle, *registry) {
	t.Helper()

	reg := newRegistry()
	h := reg.add(func(id ConnID) *handle {
		return newHandle(id, tr, slog.New(slog.DiscardHandler), callbacks, reg.remove)
	})

	return h, reg
}

func waitState(t *testing.T, h *handle, want ConnectionState) {
	t.Helper()

	require.Eventually(t, func() bool { return h.State() == want }, waitFor, time.Millisecond,
		"state never became %s", want)
}

func TestHandle_QueueFlushesInOrder(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	h, _ := newTestHandle(t, tr)

	var (
		mu  sync.Mutex
		got []int
	)

	record := func(i int) func(Conn) {
		return func(Conn) {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}
	}

	h.connect()

	for i := range 5 {
		require.NoError(t, h.whenReady(record(i)))
	}

	mu.Lock()
	assert.Empty(t, got, "nothing runs before ready")
	mu.Unlock()

	close(tr.gate)
	waitState(t, h, StateReady)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(got) == 5
	}, waitFor, time.Millisecond)

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	mu.Unlock()
}

func TestHandle_ActionQueuedDuringFlushRunsInSameFlush(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	h, _ := newTestHandle(t, tr)

	order := make(chan string, 3)

	h.connect()
	require.NoError(t, h.whenReady(func(Conn) {
		order <- "first"

		// Queued behind "second", not run inline.
		assert.NoError(t, h.whenReady(func(Conn) { order <- "third" }))
	}))
	require.NoError(t, h.whenReady(func(Conn) { order <- "second" }))

	close(tr.gate)

	for _, want := range []string{"first", "second", "third"} {
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(waitFor):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestHandle_RunsInlineWhenReady(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandle(t, newFakeTransport())
	h.connect()
	waitState(t, h, StateReady)

	// Wait out the (empty) initial flush.
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()

		return !h.flushing
	}, waitFor, time.Millisecond)

	ran := false
	require.NoError(t, h.whenReady(func(Conn) { ran = true }))
	assert.True(t, ran, "action should run before whenReady returns")
}

func TestHandle_ConnectIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	h, _ := newTestHandle(t, tr)

	h.connect()
	h.connect()
	waitState(t, h, StateReady)
	h.connect()

	assert.Equal(t, 1, tr.dialCount())
}

func TestHandle_CloseDropsQueue(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.gate = make(chan struct{})
	h, reg := newTestHandle(t, tr)

	h.connect()

	ran := false
	require.NoError(t, h.whenReady(func(Conn) { ran = true }))

	require.NoError(t, h.close())
	require.NoError(t, h.close(), "close is idempotent")

	close(tr.gate)

	assert.Equal(t, StateClosed, h.State())
	assert.Equal(t, 0, reg.len())
	assert.ErrorIs(t, h.whenReady(func(Conn) {}), ErrConnectionClosed)

	time.Sleep(10 * time.Millisecond)
	assert.False(t, ran, "queued action must not run after close")
}

func TestHandle_CloseClosesConnection(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	h, _ := newTestHandle(t, tr)

	h.connect()
	waitState(t, h, StateReady)

	require.NoError(t, h.close())

	conns := tr.connections()
	require.Len(t, conns, 1)
	assert.True(t, conns[0].isClosed())
}

func TestHandle_StateCallbacks(t *testing.T) {
	t.Parallel()

	var (
		mu          sync.Mutex
		transitions []string
	)

	cb := func(_ ConnID, from, to ConnectionState) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
	}

	h, _ := newTestHandle(t, newFakeTransport(), cb)
	h.connect()
	waitState(t, h, StateReady)
	require.NoError(t, h.close())

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"idle->connecting", "connecting->ready", "ready->closed"}, transitions)
}

func TestHandle_DialFailure(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.dialErr = errBoom
	h, reg := newTestHandle(t, tr)

	s := newStream("test", nil, nil)
	require.True(t, h.subscribe(s))
	require.NoError(t, h.whenReady(func(Conn) { s.begin() }))

	h.connect()

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("stream did not end")
	}

	var te *TransportError
	require.ErrorAs(t, s.Err(), &te)
	assert.Equal(t, "connect", te.Op)
	require.ErrorIs(t, s.Err(), errBoom)
	assert.NotErrorIs(t, s.Err(), ErrConnectionClosed, "transport error already explains the failure")
	assert.Equal(t, StateClosed, h.State())
	assert.Equal(t, 0, reg.len())
}

func TestHandle_LateArrivalSeesCause(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	tr.dialErr = errBoom
	h, _ := newTestHandle(t, tr)

	h.connect()
	waitState(t, h, StateClosed)

	assert.False(t, h.subscribe(newStream("late", nil, nil)))

	err := h.whenReady(func(Conn) {})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "connect", te.Op)
	assert.ErrorIs(t, h.closedErr(), errBoom)
}

func TestHandle_LostConnection(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	h, reg := newTestHandle(t, tr)

	s := newStream("test", nil, nil)
	require.True(t, h.subscribe(s))

	h.connect()
	waitState(t, h, StateReady)

	tr.connections()[0].drop(errBoom)
	waitState(t, h, StateClosed)

	require.ErrorIs(t, s.Err(), errBoom)
	assert.Equal(t, 0, reg.len())
	assert.False(t, h.subscribe(newStream("late", nil, nil)))
}
