package command

import (
	"context"
	"strings"
)

// Composite runs its steps in order and stops at the first one that fails.
type Composite struct {
	steps []Runnable
}

func NewComposite(steps ...Runnable) *Composite {
	return &Composite{steps: steps}
}

func (c *Composite) Add(step Runnable) {
	c.steps = append(c.steps, step)
}

func (c *Composite) String() string {
	descriptions := make([]string, 0, len(c.steps))
	for _, step := range c.steps {
		descriptions = append(descriptions, step.String())
	}
	return strings.Join(descriptions, " && ")
}

func (c *Composite) Run(ctx context.Context) bool {
	result, err := c.RunWithResult(ctx)
	return err == nil && result.Success()
}

// RunWithResult concatenates the output of every step that ran. The result
// description only names the steps that were started.
func (c *Composite) RunWithResult(ctx context.Context) (*Result, error) {
	combined := &Result{}
	var ran []string

	for _, step := range c.steps {
		ran = append(ran, step.String())

		result, err := step.RunWithResult(ctx)
		if result != nil {
			combined.Stdout = append(combined.Stdout, result.Stdout...)
			combined.Stderr = append(combined.Stderr, result.Stderr...)
			combined.ExitCode = result.ExitCode
		}
		combined.Description = strings.Join(ran, " && ")

		if err != nil {
			combined.ExitCode = -1
			return combined, err
		}
		if !result.Success() {
			return combined, nil
		}
	}

	return combined, nil
}
