package ssh

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ruffel/relay"
	"github.com/ruffel/relay/internal/sshtest"
	"github.com/ruffel/relay/relaytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, srv *sshtest.Server, opts ...relay.ClientOption) *relay.Client {
	t.Helper()

	opts = append([]relay.ClientOption{relay.WithLogger(slog.New(slog.DiscardHandler))}, opts...)

	c, err := relay.New(newTestTransport(t, srv), opts...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = c.Close() })

	return c
}

func wait(t *testing.T, s *relay.Stream) ([]*relay.File, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	files, err := s.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "stream %s did not end", s.Name())

	return files, err
}

func TestContract(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)
	c := newTestClient(t, srv)

	relaytest.Verify(t, c, "/tmp/relay-contract")
}

func TestClient_ShellTranscript(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)
	c := newTestClient(t, srv)

	s, err := c.Shell([]string{"pushd /tmp", "pwd", "popd"})
	require.NoError(t, err)

	files, err := wait(t, s)
	require.NoError(t, err)
	require.Len(t, files, 1)

	tr := relay.ParseTranscript(files[0].Contents)
	assert.Equal(t, []string{"pushd /tmp", "pwd", "popd", "exit"}, tr.Commands)
	assert.Equal(t, []string{"/tmp /home/relay"}, tr.Output["pushd /tmp"])
	assert.Equal(t, []string{"/tmp"}, tr.Output["pwd"])
	assert.Equal(t, []string{"/home/relay"}, tr.Output["popd"])
}

func TestClient_SharesOneConnection(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)
	c := newTestClient(t, srv)

	var wg sync.WaitGroup

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s, err := c.Exec([]string{"uptime"})
			if !assert.NoError(t, err) {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), waitFor)
			defer cancel()

			files, err := s.Wait(ctx)
			assert.NoError(t, err)

			if assert.Len(t, files, 1) {
				assert.Contains(t, files[0].String(), "load average")
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, srv.Accepted())
	assert.Len(t, c.Connections(), 1)
}

func TestClient_ExclusiveConnection(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)
	c := newTestClient(t, srv)

	s, err := c.Exec([]string{"echo mine"}, relay.WithExclusive())
	require.NoError(t, err)

	files, err := wait(t, s)
	require.NoError(t, err)
	assert.Equal(t, "mine\n", files[0].String())

	assert.Eventually(t, func() bool { return srv.Active() == 0 }, waitFor, 10*time.Millisecond)
	assert.Empty(t, c.Connections())
}

func TestClient_SrcToDest(t *testing.T) {
	t.Parallel()

	local := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(local, "conf", "skip"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "app.txt"), []byte("app"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(local, "conf", "app.yaml"), []byte("port: 80"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(local, "conf", "skip", "secret"), []byte("x"), 0o600))

	files, err := relay.Src(local, "skip")
	require.NoError(t, err)

	srv := sshtest.New(t)
	c := newTestClient(t, srv)

	s, err := c.Dest("/srv/app")
	require.NoError(t, err)
	require.NoError(t, s.SendAll(context.Background(), files...))

	out, err := wait(t, s)
	require.NoError(t, err)
	assert.Len(t, out, len(files))

	r, err := c.SFTP(relay.ModeRead, "/srv/app/conf/app.yaml")
	require.NoError(t, err)

	got, err := wait(t, r)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "port: 80", got[0].String())

	r, err = c.SFTP(relay.ModeRead, "/srv/app/conf/skip/secret")
	require.NoError(t, err)

	_, err = wait(t, r)
	assert.Error(t, err, "excluded files are not copied")
}

func TestClient_LostConnection(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)

	var (
		mu     sync.Mutex
		states []relay.ConnectionState
	)

	c := newTestClient(t, srv, relay.WithStateCallback(func(_ relay.ConnID, _, to relay.ConnectionState) {
		mu.Lock()
		states = append(states, to)
		mu.Unlock()
	}))

	s, err := c.Exec([]string{"sleep 30"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.Active() == 1 }, waitFor, 10*time.Millisecond)
	srv.Drop()

	_, err = wait(t, s)
	require.Error(t, err)

	var transportErr *relay.TransportError
	assert.ErrorAs(t, err, &transportErr)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(states) > 0 && states[len(states)-1] == relay.StateClosed
	}, waitFor, 10*time.Millisecond)

	// The next operation dials a fresh connection.
	s, err = c.Exec([]string{"echo again"})
	require.NoError(t, err)

	files, err := wait(t, s)
	require.NoError(t, err)
	assert.Equal(t, "again\n", files[0].String())
	assert.Equal(t, 2, srv.Accepted())
}

func TestClient_AuthFailure(t *testing.T) {
	t.Parallel()

	srv := sshtest.New(t)
	other := sshtest.New(t)

	tr := newTestTransport(t, srv, WithPrivateKey(string(other.ClientKeyPEM)))

	c, err := relay.New(tr, relay.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	defer func() { _ = c.Close() }()

	s, err := c.Exec([]string{"echo never"})
	require.NoError(t, err)

	_, err = wait(t, s)

	var transportErr *relay.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "connect", transportErr.Op)
}
