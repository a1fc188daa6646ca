package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

var ErrEmptyCommand = errors.New("empty command")

type Kind string

const (
	KindLocal     Kind = "local"
	KindRemote    Kind = "remote"
	KindContainer Kind = "container"
)

// Runnable is anything the orchestrator can execute and report on.
type Runnable interface {
	Run(ctx context.Context) bool
	RunWithResult(ctx context.Context) (*Result, error)
	String() string
}

type Result struct {
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
	Description string
}

func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

func (r *Result) StdoutString() string {
	if r == nil {
		return ""
	}
	return string(r.Stdout)
}

func (r *Result) StderrString() string {
	if r == nil {
		return ""
	}
	return string(r.Stderr)
}

// Executor spawns one process for the given argument vector and waits for it.
// A non-zero exit is reported through the exit code, not the error.
type Executor interface {
	Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (int, error)
}

type OSExecutor struct{}

func (OSExecutor) Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	if len(args) == 0 {
		return -1, ErrEmptyCommand
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", args[0], err)
	}

	return 0, nil
}

type Command struct {
	kind        Kind
	args        []string
	input       []byte
	inputPath   string
	outputPath  string
	text        bool
	description string
	executor    Executor
	log         *zap.SugaredLogger
}

type Option func(*Command)

// WithInput feeds a literal string to the process stdin.
func WithInput(input string) Option {
	return func(c *Command) {
		c.input = []byte(input)
	}
}

// WithInputFile streams the named file into the process stdin.
func WithInputFile(path string) Option {
	return func(c *Command) {
		c.inputPath = path
	}
}

// WithOutputFile writes the process stdout to the named file instead of capturing it.
func WithOutputFile(path string) Option {
	return func(c *Command) {
		c.outputPath = path
	}
}

// WithTextOutput normalizes captured output line endings, for callers that parse it.
func WithTextOutput() Option {
	return func(c *Command) {
		c.text = true
	}
}

func WithDescription(description string) Option {
	return func(c *Command) {
		c.description = description
	}
}

func WithExecutor(executor Executor) Option {
	return func(c *Command) {
		if executor != nil {
			c.executor = executor
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Command) {
		if log != nil {
			c.log = log
		}
	}
}

// New tokenizes a shell command line into words and builds a local command.
// No shell interpreter is involved when it runs.
func New(line string, opts ...Option) (*Command, error) {
	args, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}

	return FromArgs(args, opts...), nil
}

func FromArgs(args []string, opts ...Option) *Command {
	return build(KindLocal, args, opts...)
}

func build(kind Kind, args []string, opts ...Option) *Command {
	c := &Command{
		kind:     kind,
		args:     append([]string(nil), args...),
		executor: OSExecutor{},
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Command) Kind() Kind {
	return c.kind
}

func (c *Command) Args() []string {
	return append([]string(nil), c.args...)
}

// Line renders the argument vector as a shell-safe command line.
func (c *Command) Line() string {
	return shellquote.Join(c.args...)
}

func (c *Command) InputPath() string {
	return c.inputPath
}

func (c *Command) OutputPath() string {
	return c.outputPath
}

func (c *Command) String() string {
	if c.description != "" {
		return c.description
	}
	return c.Line()
}

func (c *Command) Run(ctx context.Context) bool {
	result, err := c.RunWithResult(ctx)
	if err != nil {
		c.log.Errorw("command could not be run", "command", c.String(), "error", err)
		return false
	}
	return result.Success()
}

func (c *Command) RunWithResult(ctx context.Context) (*Result, error) {
	c.log.Debugw("running command", "kind", c.kind, "command", c.String(), "output", c.outputPath)

	result := &Result{ExitCode: -1, Description: c.String()}

	var stdin io.Reader
	switch {
	case c.input != nil:
		stdin = bytes.NewReader(c.input)
	case c.inputPath != "":
		f, err := os.Open(c.inputPath)
		if err != nil {
			return result, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		stdin = f
	}

	var stdout, stderr bytes.Buffer
	var out io.Writer = &stdout
	if c.outputPath != "" {
		f, err := os.Create(c.outputPath)
		if err != nil {
			return result, fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	code, err := c.executor.Execute(ctx, c.args, stdin, out, &stderr)
	result.ExitCode = code
	result.Stdout = c.normalize(stdout.Bytes())
	result.Stderr = c.normalize(stderr.Bytes())
	if err != nil {
		return result, err
	}

	if code != 0 {
		c.log.Errorw("command failed", "command", c.String(), "exit_code", code, "stderr", strings.TrimSpace(string(result.Stderr)))
	}

	return result, nil
}

func (c *Command) normalize(b []byte) []byte {
	if !c.text {
		return b
	}
	return bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
}
