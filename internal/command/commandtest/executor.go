// Package commandtest provides an in-process Executor for tests.
package commandtest

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"
)

type Call struct {
	Args  []string
	Stdin []byte
}

func (c Call) Line() string {
	return strings.Join(c.Args, " ")
}

// Handler simulates a process. It returns the exit code.
type Handler func(args []string, stdin []byte, stdout, stderr io.Writer) int

type rule struct {
	match   func(args []string) bool
	handler Handler
}

// Executor records every call and dispatches it to the most recently
// registered matching rule. Calls without a matching rule exit 0 with no output.
type Executor struct {
	mu    sync.Mutex
	calls []Call
	rules []rule
}

func New() *Executor {
	return &Executor{}
}

func (e *Executor) Handle(match func(args []string) bool, handler Handler) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule{match: match, handler: handler})
	return e
}

// Fail makes every call whose line contains substr exit with code.
func (e *Executor) Fail(substr string, code int) *Executor {
	return e.Handle(Contains(substr), func(_ []string, _ []byte, _, stderr io.Writer) int {
		io.WriteString(stderr, "simulated failure: "+substr+"\n")
		return code
	})
}

// Output makes every call whose line contains substr print out.
func (e *Executor) Output(substr, out string) *Executor {
	return e.Handle(Contains(substr), func(_ []string, _ []byte, stdout, _ io.Writer) int {
		io.WriteString(stdout, out)
		return 0
	})
}

func (e *Executor) Execute(_ context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	var in []byte
	if stdin != nil {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return -1, err
		}
		in = b
	}

	e.mu.Lock()
	e.calls = append(e.calls, Call{Args: slices.Clone(args), Stdin: in})
	rules := slices.Clone(e.rules)
	e.mu.Unlock()

	for i := len(rules) - 1; i >= 0; i-- {
		if rules[i].match(args) {
			return rules[i].handler(args, in, stdout, stderr), nil
		}
	}
	return 0, nil
}

func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

func (e *Executor) Lines() []string {
	var lines []string
	for _, c := range e.Calls() {
		lines = append(lines, c.Line())
	}
	return lines
}

// CountContaining reports how many recorded calls contain substr.
func (e *Executor) CountContaining(substr string) int {
	n := 0
	for _, line := range e.Lines() {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

func Contains(substr string) func(args []string) bool {
	return func(args []string) bool {
		return strings.Contains(strings.Join(args, " "), substr)
	}
}

func Program(name string) func(args []string) bool {
	return func(args []string) bool {
		return len(args) > 0 && args[0] == name
	}
}
