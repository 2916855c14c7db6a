package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/shlex"
	"github.com/ruffel/relay/fileutil"
	"gopkg.in/yaml.v3"
)

// TaskFile is the relay.yaml format read by "relay run".
type TaskFile struct {
	Env   map[string]string `yaml:"env"`
	Tasks map[string]*Task  `yaml:"tasks"`

	// dir is the directory the file was read from. Local paths are relative to it.
	dir string
}

// Task is one named unit of work. Steps run in a fixed order: uploads,
// then commands, then downloads.
type Task struct {
	Desc     string            `yaml:"desc"`
	Env      map[string]string `yaml:"env"`
	Upload   []Upload          `yaml:"upload"`
	Run      []string          `yaml:"run"`
	Shell    bool              `yaml:"shell"`
	Dir      string            `yaml:"dir"`
	Strict   bool              `yaml:"strict"`
	Download []Download        `yaml:"download"`
}

// Upload copies a local tree to a remote directory.
type Upload struct {
	Src     string   `yaml:"src"`
	Dst     string   `yaml:"dst"`
	Exclude []string `yaml:"exclude"`
}

// Download copies one remote file to a local path below the task file's directory.
type Download struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

// ParseTaskFile reads and validates a task file.
func ParseTaskFile(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	tf, err := parseTasks(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}

	tf.dir = filepath.Dir(path)

	return tf, nil
}

func parseTasks(data []byte) (*TaskFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var tf TaskFile
	if err := dec.Decode(&tf); err != nil {
		return nil, err
	}

	if len(tf.Tasks) == 0 {
		return nil, errors.New("no tasks defined")
	}

	for name, t := range tf.Tasks {
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("task %q: %w", name, err)
		}
	}

	return &tf, nil
}

// Names returns the task names in sorted order.
func (tf *TaskFile) Names() []string {
	names := make([]string, 0, len(tf.Tasks))
	for name := range tf.Tasks {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Lookup resolves every name before anything runs.
func (tf *TaskFile) Lookup(names []string) ([]*Task, error) {
	tasks := make([]*Task, 0, len(names))

	for _, name := range names {
		t, ok := tf.Tasks[name]
		if !ok {
			return nil, fmt.Errorf("unknown task %q (have: %s)", name, strings.Join(tf.Names(), ", "))
		}

		tasks = append(tasks, t)
	}

	return tasks, nil
}

// EnvFor merges the file environment with a task's; the task wins. The result
// is sorted by key so commands see a stable order.
func (tf *TaskFile) EnvFor(t *Task) []string {
	merged := map[string]string{}

	for k, v := range tf.Env {
		merged[k] = v
	}

	for k, v := range t.Env {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}

	slices.Sort(env)

	return env
}

// local resolves p against the task file directory and refuses paths that
// leave it.
func (tf *TaskFile) local(p string) (string, error) {
	root, err := filepath.Abs(tf.dir)
	if err != nil {
		return "", err
	}

	target := p
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}

	if err := fileutil.CheckPathTraversal(root, target); err != nil {
		return "", err
	}

	return target, nil
}

func (t *Task) validate() error {
	if len(t.Run) == 0 && len(t.Upload) == 0 && len(t.Download) == 0 {
		return errors.New("nothing to do: set run, upload or download")
	}

	if err := validateCommands(t.Run); err != nil {
		return err
	}

	for i, u := range t.Upload {
		if u.Src == "" || u.Dst == "" {
			return fmt.Errorf("upload %d: src and dst are required", i+1)
		}
	}

	for i, d := range t.Download {
		if d.Src == "" || d.Dst == "" {
			return fmt.Errorf("download %d: src and dst are required", i+1)
		}
	}

	return nil
}

// validateCommands rejects command lines a POSIX shell could not parse, so a
// typo fails before anything is sent to the host.
func validateCommands(cmds []string) error {
	for _, c := range cmds {
		if strings.TrimSpace(c) == "" {
			continue
		}

		if _, err := shlex.Split(c); err != nil {
			return fmt.Errorf("command %q: %w", c, err)
		}
	}

	return nil
}
