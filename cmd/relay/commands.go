package main

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"github.com/ruffel/relay"
	"github.com/spf13/cobra"
)

func (a *app) execCmd() *cobra.Command {
	var (
		env       []string
		dir       string
		logPath   string
		pty       bool
		exclusive bool
	)

	cmd := &cobra.Command{
		Use:   "exec COMMAND...",
		Short: "Run each command on its own channel, in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateCommands(args); err != nil {
				return err
			}

			opts, err := envOptions(env)
			if err != nil {
				return err
			}

			if dir != "" {
				opts = append(opts, relay.WithDir(dir))
			}

			if pty {
				opts = append(opts, relay.WithPty())
			}

			if exclusive {
				opts = append(opts, relay.WithExclusive())
			}

			return a.withClient(func(c *relay.Client) error {
				files, err := a.runCommands(cmd.Context(), c, args, false, opts...)

				return errors.Join(err, saveLog(files, logPath))
			})
		},
	}

	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringVarP(&dir, "dir", "C", "", "remote working directory")
	cmd.Flags().StringVar(&logPath, "log", "", "also save the combined output to this local file")
	cmd.Flags().BoolVarP(&pty, "tty", "t", false, "allocate a pseudo-terminal")
	cmd.Flags().BoolVar(&exclusive, "exclusive", false, "use a dedicated connection")

	return cmd
}

func (a *app) shellCmd() *cobra.Command {
	var (
		env     []string
		logPath string
		pty     bool
		noExit  bool
	)

	cmd := &cobra.Command{
		Use:   "shell COMMAND...",
		Short: "Feed the commands to one interactive shell",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateCommands(args); err != nil {
				return err
			}

			opts, err := envOptions(env)
			if err != nil {
				return err
			}

			opts = append(opts, relay.WithAutoExit(!noExit))

			if pty {
				opts = append(opts, relay.WithPty())
			}

			return a.withClient(func(c *relay.Client) error {
				files, err := a.runCommands(cmd.Context(), c, args, true, opts...)

				return errors.Join(err, saveLog(files, logPath))
			})
		},
	}

	cmd.Flags().StringArrayVarP(&env, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&logPath, "log", "", "also save the transcript to this local file")
	cmd.Flags().BoolVarP(&pty, "tty", "t", false, "allocate a pseudo-terminal")
	cmd.Flags().BoolVar(&noExit, "no-exit", false, "do not append an exit command")

	return cmd
}

func (a *app) getCmd() *cobra.Command {
	var (
		progress bool
		mode     string
	)

	cmd := &cobra.Command{
		Use:   "get REMOTE [LOCAL]",
		Short: "Download one remote file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := args[0]

			local := path.Base(remote)
			if len(args) == 2 {
				local = args[1]
			}

			perm, err := parseMode(mode)
			if err != nil {
				return err
			}

			if perm == 0 {
				perm = 0o644
			}

			return a.withClient(func(c *relay.Client) error {
				s, err := c.SFTP(relay.ModeRead, remote,
					relay.WithLocalPath(local),
					relay.WithProgress(a.progress(progress, remote)),
				)
				if err != nil {
					return err
				}

				files, err := s.Wait(cmd.Context())
				if progress {
					_, _ = fmt.Fprintln(a.stderr)
				}

				if err != nil {
					return err
				}

				f := files[0]
				if err := os.WriteFile(f.Path, f.Contents, os.FileMode(perm)); err != nil {
					return fmt.Errorf("failed to write %s: %w", f.Path, err)
				}

				_, _ = fmt.Fprintln(a.stdout, checkStyle.Render(fmt.Sprintf("✓ %s → %s (%d bytes)", remote, f.Path, len(f.Contents))))

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&progress, "progress", false, "print transfer progress")
	cmd.Flags().StringVar(&mode, "mode", "", "local file mode in octal (default 0644)")

	return cmd
}

func (a *app) putCmd() *cobra.Command {
	var (
		progress bool
		mode     string
	)

	cmd := &cobra.Command{
		Use:   "put LOCAL REMOTE",
		Short: "Upload one local file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local, remote := args[0], args[1]

			perm, err := parseMode(mode)
			if err != nil {
				return err
			}

			f, err := os.Open(local)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", local, err)
			}

			defer func() { _ = f.Close() }()

			return a.withClient(func(c *relay.Client) error {
				s, err := c.SFTP(relay.ModeWrite, remote,
					relay.WithPermissions(os.FileMode(perm)),
					relay.WithProgress(a.progress(progress, local)),
				)
				if err != nil {
					return err
				}

				if err := s.SendAll(cmd.Context(), &relay.File{Path: local, Reader: f}); err != nil {
					return err
				}

				_, err = s.Wait(cmd.Context())
				if progress {
					_, _ = fmt.Fprintln(a.stderr)
				}

				if err != nil {
					return err
				}

				_, _ = fmt.Fprintln(a.stdout, checkStyle.Render(fmt.Sprintf("✓ %s → %s", local, remote)))

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&progress, "progress", false, "print transfer progress")
	cmd.Flags().StringVar(&mode, "mode", "", "remote file mode in octal (default: server default)")

	return cmd
}

func (a *app) syncCmd() *cobra.Command {
	var (
		excludes   []string
		bestEffort bool
		mode       string
	)

	cmd := &cobra.Command{
		Use:   "sync LOCALDIR REMOTEDIR",
		Short: "Copy a local directory tree below a remote directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			perm, err := parseMode(mode)
			if err != nil {
				return err
			}

			opts := []relay.FileOption{relay.WithPermissions(os.FileMode(perm))}
			if bestEffort {
				opts = append(opts, relay.WithBestEffort())
			}

			return a.withClient(func(c *relay.Client) error {
				n, err := a.upload(cmd, c, args[0], args[1], excludes, opts...)
				if err != nil {
					return err
				}

				_, _ = fmt.Fprintln(a.stdout, checkStyle.Render(fmt.Sprintf("✓ %d files → %s", n, args[1])))

				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&excludes, "exclude", "x", nil, "glob of names or relative paths to skip (repeatable)")
	cmd.Flags().BoolVar(&bestEffort, "best-effort", false, "keep going after a file fails")
	cmd.Flags().StringVar(&mode, "mode", "", "remote file mode in octal (default: server default)")

	return cmd
}

// upload copies the tree at local below remote and returns how many regular
// files were written.
func (a *app) upload(cmd *cobra.Command, c *relay.Client, local, remote string, excludes []string, opts ...relay.FileOption) (int, error) {
	files, err := relay.Src(local, excludes...)
	if err != nil {
		return 0, err
	}

	s, err := c.Dest(remote, opts...)
	if err != nil {
		return 0, err
	}

	sendErr := s.SendAll(cmd.Context(), files...)

	out, err := s.Wait(cmd.Context())
	if err == nil && sendErr != nil && !errors.Is(sendErr, relay.ErrStreamClosed) {
		err = sendErr
	}

	n := 0

	for _, f := range out {
		if !f.IsNull() {
			n++
		}
	}

	return n, err
}

func (a *app) runCmd() *cobra.Command {
	var (
		file string
		list bool
	)

	cmd := &cobra.Command{
		Use:   "run TASK...",
		Short: "Run tasks from a task file",
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := ParseTaskFile(file)
			if err != nil {
				return err
			}

			if list || len(args) == 0 {
				for _, name := range tf.Names() {
					_, _ = fmt.Fprintf(a.stdout, "%s\t%s\n", name, infoStyle.Render(tf.Tasks[name].Desc))
				}

				return nil
			}

			tasks, err := tf.Lookup(args)
			if err != nil {
				return err
			}

			return a.withClient(func(c *relay.Client) error {
				for i, t := range tasks {
					_, _ = fmt.Fprintln(a.stdout, titleStyle.Render("▶ "+args[i]))

					if err := a.runTask(cmd, c, tf, t); err != nil {
						return fmt.Errorf("task %s: %w", args[i], err)
					}

					_, _ = fmt.Fprintln(a.stdout, checkStyle.Render("✓ "+args[i]))
				}

				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "relay.yaml", "task file")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "list tasks and exit")

	return cmd
}

func (a *app) runTask(cmd *cobra.Command, c *relay.Client, tf *TaskFile, t *Task) error {
	for _, u := range t.Upload {
		src, err := tf.local(u.Src)
		if err != nil {
			return err
		}

		n, err := a.upload(cmd, c, src, u.Dst, u.Exclude)
		if err != nil {
			return err
		}

		_, _ = fmt.Fprintln(a.stdout, infoStyle.Render(fmt.Sprintf("  %d files → %s", n, u.Dst)))
	}

	if len(t.Run) > 0 {
		var opts []relay.ExecOption

		env, err := envOptions(tf.EnvFor(t))
		if err != nil {
			return err
		}

		opts = append(opts, env...)

		if t.Dir != "" && !t.Shell {
			opts = append(opts, relay.WithDir(t.Dir))
		}

		if t.Strict {
			opts = append(opts, relay.WithIgnoreErrors(false))
		}

		if _, err := a.runCommands(cmd.Context(), c, t.Run, t.Shell, opts...); err != nil {
			return err
		}
	}

	for _, d := range t.Download {
		dst, err := tf.local(d.Dst)
		if err != nil {
			return err
		}

		s, err := c.SFTP(relay.ModeRead, d.Src, relay.WithLocalPath(dst))
		if err != nil {
			return err
		}

		files, err := s.Wait(cmd.Context())
		if err != nil {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(dst, files[0].Contents, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", dst, err)
		}

		_, _ = fmt.Fprintln(a.stdout, infoStyle.Render(fmt.Sprintf("  %s → %s", d.Src, d.Dst)))
	}

	return nil
}

func (a *app) envCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables relay reads",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return envconfig.Usagef(envPrefix, &Settings{}, a.stdout, envconfig.DefaultTableFormat)
		},
	}
}

func saveLog(files []*relay.File, local string) error {
	if local == "" || len(files) == 0 {
		return nil
	}

	if err := os.WriteFile(local, files[0].Contents, 0o644); err != nil {
		return fmt.Errorf("failed to save log: %w", err)
	}

	return nil
}
