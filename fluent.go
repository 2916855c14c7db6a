package relay

// Builder provides a fluent API for assembling a command list and its options.
type Builder struct {
	commands []string
	opts     []ExecOption
}

// Cmd starts a Builder with a first command.
func Cmd(command string) *Builder {
	return &Builder{commands: []string{command}}
}

// Then appends a command.
func (b *Builder) Then(command string) *Builder {
	b.commands = append(b.commands, command)
	return b
}

// Env adds an environment variable in "KEY=VALUE" format.
func (b *Builder) Env(key, value string) *Builder {
	b.opts = append(b.opts, WithEnv(key, value))
	return b
}

// Dir sets the working directory for Exec.
func (b *Builder) Dir(dir string) *Builder {
	b.opts = append(b.opts, WithDir(dir))
	return b
}

// LogPath names the transcript file.
func (b *Builder) LogPath(path string) *Builder {
	b.opts = append(b.opts, WithLogPath(path))
	return b
}

// Strict reports non-zero exits as errors.
func (b *Builder) Strict() *Builder {
	b.opts = append(b.opts, WithIgnoreErrors(false))
	return b
}

// Tty enables PTY allocation.
func (b *Builder) Tty() *Builder {
	b.opts = append(b.opts, WithPty())
	return b
}

// Exclusive runs the commands on a connection of their own.
func (b *Builder) Exclusive() *Builder {
	b.opts = append(b.opts, WithExclusive())
	return b
}

// Commands returns a copy of the command list.
func (b *Builder) Commands() []string {
	return append([]string(nil), b.commands...)
}

// Options returns a copy of the collected options.
func (b *Builder) Options() []ExecOption {
	return append([]ExecOption(nil), b.opts...)
}

// Exec runs the commands with Client.Exec.
func (b *Builder) Exec(c *Client) (*Stream, error) {
	return c.Exec(b.Commands(), b.Options()...)
}

// Shell runs the commands with Client.Shell.
func (b *Builder) Shell(c *Client) (*Stream, error) {
	return c.Shell(b.Commands(), b.Options()...)
}
