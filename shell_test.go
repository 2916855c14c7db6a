package relay

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShell_PushdPwd(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newFakeTransport())

	s, err := c.Shell([]string{"pushd /tmp", "pwd"})
	require.NoError(t, err)

	files, err := waitStream(t, s)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, DefaultShellLog, files[0].Path)

	tr := ParseTranscript(files[0].Contents)
	assert.Equal(t, []string{"/tmp"}, tr.Output["pwd"])
	assert.Equal(t, []string{"pushd /tmp", "pwd", "exit"}, tr.Commands)
}

func TestShell_RequiresCommands(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c := newTestClient(t, tr)

	_, err := c.Shell(nil)
	require.ErrorIs(t, err, ErrCommandsRequired)
	assert.Equal(t, 0, tr.dialCount())
}

func TestShell_BlankListEmitsEmptyTranscript(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport()
	c := newTestClient(t, tr)

	s, err := c.Shell([]string{"", "  "}, WithLogPath("empty.log"))
	require.NoError(t, err)

	files, err := waitStream(t, s)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "empty.log", files[0].Path)
	assert.Empty(t, files[0].Contents)
	assert.False(t, files[0].IsNull())
	assert.Equal(t, 0, tr.dialCount(), "no channel is opened")
}

func TestShell_ExplicitExitNotRepeated(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newFakeTransport())

	s, err := c.Shell([]string{"echo hi", "exit"})
	require.NoError(t, err)

	files, err := waitStream(t, s)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "$ echo hi\nhi\n$ exit\n", files[0].String())
}

func TestShell_AutoExitDisabled(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newFakeTransport(), WithStrictErrors())

	s, err := c.Shell([]string{"echo hi", "exit 3"}, WithAutoExit(false))
	require.NoError(t, err)

	files, err := waitStream(t, s)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Status.Code)

	require.Len(t, files, 1)
	assert.Equal(t, []string{"echo hi", "exit 3"}, ParseTranscript(files[0].Contents).Commands)
}

func TestShell_DiagnosticOutputAndLiveData(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newFakeTransport())

	var live bytes.Buffer

	s, err := c.Shell([]string{"popd", "echo done"}, WithDataHandler(func(b []byte) { live.Write(b) }))
	require.NoError(t, err)

	files, err := waitStream(t, s)

	var remoteErr *RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Contains(t, string(remoteErr.Output), "directory stack empty")

	require.Len(t, files, 1)
	assert.Equal(t, files[0].String(), live.String())
}

type recordingWriter struct {
	bytes.Buffer
	closed bool
	err    error
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}

	return w.Buffer.Write(p)
}

func (w *recordingWriter) Close() error {
	w.closed = true

	return nil
}

func TestWriteCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cmds       []string
		autoExit   bool
		want       string
		wantClosed bool
	}{
		{"Appends newline and exit", []string{"ls", "pwd\n"}, true, "ls\npwd\nexit\n", true},
		{"Exit already last", []string{"ls", "exit"}, true, "ls\nexit\n", true},
		{"Exit with code is not the directive", []string{"exit 1"}, true, "exit 1\nexit\n", true},
		{"No auto exit", []string{"ls"}, false, "ls\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var w recordingWriter

			require.NoError(t, writeCommands(&w, tt.cmds, tt.autoExit))
			assert.Equal(t, tt.want, w.String())
			assert.Equal(t, tt.wantClosed, w.closed)
		})
	}

	t.Run("Hangup ignored", func(t *testing.T) {
		t.Parallel()

		w := recordingWriter{err: io.ErrClosedPipe}
		require.NoError(t, writeCommands(&w, []string{"ls"}, true))
	})

	t.Run("Other errors reported", func(t *testing.T) {
		t.Parallel()

		w := recordingWriter{err: errBoom}
		err := writeCommands(&w, []string{"ls"}, true)
		assert.True(t, errors.Is(err, errBoom))
	})
}
