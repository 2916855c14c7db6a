package relay

import (
	"log/slog"
	"os"

	"github.com/ruffel/relay/fileutil"
)

// Default artifact names for command transcripts.
const (
	DefaultExecLog  = "gulp-ssh.exec.log"
	DefaultShellLog = "gulp-ssh.shell.log"
)

// ClientConfig holds configuration derived from client options.
type ClientConfig struct {
	Logger       *slog.Logger
	IgnoreErrors bool // Default for operations that do not set WithIgnoreErrors
	OnState      []StateCallback
}

// ClientOption defines a functional option for New.
type ClientOption func(*ClientConfig)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *ClientConfig) {
		c.Logger = l
	}
}

// WithStrictErrors makes non-zero exits surface as errors unless an operation opts out.
func WithStrictErrors() ClientOption {
	return func(c *ClientConfig) {
		c.IgnoreErrors = false
	}
}

// WithStateCallback registers fn to be called on every connection state change.
func WithStateCallback(fn StateCallback) ClientOption {
	return func(c *ClientConfig) {
		c.OnState = append(c.OnState, fn)
	}
}

// ExecConfig holds configuration for Exec and Shell, built once per operation.
type ExecConfig struct {
	LogPath      string
	IgnoreErrors bool
	AutoExit     bool // Shell only
	Exclusive    bool
	Env          []string
	Dir          string // Exec only
	Pty          bool
	OnData       func([]byte)
	OnError      func(error)
}

// ExecOption defines a functional option for Exec and Shell.
type ExecOption func(*ExecConfig)

// WithLogPath names the transcript artifact.
func WithLogPath(path string) ExecOption {
	return func(c *ExecConfig) {
		c.LogPath = path
	}
}

// WithIgnoreErrors controls whether non-zero exits and signals are reported.
// Diagnostic-stream output is always reported.
func WithIgnoreErrors(ignore bool) ExecOption {
	return func(c *ExecConfig) {
		c.IgnoreErrors = ignore
	}
}

// WithAutoExit controls whether Shell appends an exit directive. Default true.
func WithAutoExit(auto bool) ExecOption {
	return func(c *ExecConfig) {
		c.AutoExit = auto
	}
}

// WithEnv adds an environment variable in "KEY=VALUE" form.
func WithEnv(key, value string) ExecOption {
	return func(c *ExecConfig) {
		c.Env = append(c.Env, key+"="+value)
	}
}

// WithDir runs each command in dir.
func WithDir(dir string) ExecOption {
	return func(c *ExecConfig) {
		c.Dir = dir
	}
}

// WithPty allocates a pseudo-terminal for the channel.
func WithPty() ExecOption {
	return func(c *ExecConfig) {
		c.Pty = true
	}
}

// WithExclusive gives the operation its own connection, closed when the operation ends.
func WithExclusive() ExecOption {
	return func(c *ExecConfig) {
		c.Exclusive = true
	}
}

// WithDataHandler calls fn with every chunk of primary output as it arrives.
func WithDataHandler(fn func([]byte)) ExecOption {
	return func(c *ExecConfig) {
		c.OnData = fn
	}
}

// WithErrorHandler calls fn with every error as it is surfaced.
func WithErrorHandler(fn func(error)) ExecOption {
	return func(c *ExecConfig) {
		c.OnError = fn
	}
}

// FileConfig holds configuration for SFTP and Dest.
type FileConfig struct {
	LocalPath   string      // SFTP read: artifact path (default: the remote path)
	Permissions os.FileMode // Remote file mode override (0 keeps server default)
	Progress    ProgressFunc
	Exclusive   bool
	BestEffort  bool // Dest: keep going after a failed entry
	OnError     func(error)
}

// ProgressFunc is a callback for tracking transfer progress. total is -1 when unknown.
type ProgressFunc = fileutil.ProgressFunc

// FileOption defines a functional option for file transfers.
type FileOption func(*FileConfig)

// WithLocalPath names the artifact produced by an SFTP read.
func WithLocalPath(path string) FileOption {
	return func(c *FileConfig) {
		c.LocalPath = path
	}
}

// WithPermissions forces the remote file mode.
func WithPermissions(mode os.FileMode) FileOption {
	return func(c *FileConfig) {
		c.Permissions = mode
	}
}

// WithProgress calls fn with progress updates for each file.
func WithProgress(fn ProgressFunc) FileOption {
	return func(c *FileConfig) {
		c.Progress = fn
	}
}

// WithExclusiveConnection gives the transfer its own connection.
func WithExclusiveConnection() FileOption {
	return func(c *FileConfig) {
		c.Exclusive = true
	}
}

// WithBestEffort makes Dest report failed entries and continue with the rest.
// By default Dest stops at the first failure.
func WithBestEffort() FileOption {
	return func(c *FileConfig) {
		c.BestEffort = true
	}
}

// WithTransferErrorHandler calls fn with every transfer error as it is surfaced.
func WithTransferErrorHandler(fn func(error)) FileOption {
	return func(c *FileConfig) {
		c.OnError = fn
	}
}

func (cl *Client) execConfig(logPath string, opts []ExecOption) ExecConfig {
	cfg := ExecConfig{
		LogPath:      logPath,
		IgnoreErrors: cl.config.IgnoreErrors,
		AutoExit:     true,
	}

	for _, o := range opts {
		o(&cfg)
	}

	if cfg.LogPath == "" {
		cfg.LogPath = logPath
	}

	cfg.Env = append([]string(nil), cfg.Env...)

	return cfg
}

func fileConfig(opts []FileOption) FileConfig {
	var cfg FileConfig
	for _, o := range opts {
		o(&cfg)
	}

	return cfg
}
