package command

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrHelperNotRemovable = errors.New("helper container options must include --rm")
	ErrInvalidMode        = errors.New("invalid container mode")
)

type ContainerMode string

const (
	// ModeExec runs inside the live target container.
	ModeExec ContainerMode = "exec"
	// ModeRun starts a throwaway helper container sharing the target's volumes.
	ModeRun ContainerMode = "run"
)

const DefaultHelperImage = "busybox"

// ContainerSpec describes where a containerized command runs. The same spec
// can produce several commands, e.g. a tar step and its cleanup step.
type ContainerSpec struct {
	Container   string
	Mode        ContainerMode
	Options     []string
	HelperImage string
}

func (s ContainerSpec) Validate() error {
	if s.Container == "" {
		return fmt.Errorf("container name not set")
	}
	switch s.Mode {
	case ModeExec:
	case ModeRun:
		if !slices.Contains(s.Options, "--rm") {
			return ErrHelperNotRemovable
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidMode, s.Mode)
	}
	return nil
}

func (s ContainerSpec) image() string {
	if s.HelperImage == "" {
		return DefaultHelperImage
	}
	return s.HelperImage
}

// Args builds the docker argument vector that runs inner through `sh -c`.
func (s ContainerSpec) Args(inner string) []string {
	var args []string
	if s.Mode == ModeExec {
		args = []string{"docker", "exec"}
		args = append(args, s.Options...)
		args = append(args, s.Container)
	} else {
		args = []string{"docker", "run", "--volumes-from", s.Container}
		args = append(args, s.Options...)
		args = append(args, s.image())
	}
	return append(args, "sh", "-c", inner)
}

// Command builds a container command for the inner shell line.
func (s ContainerSpec) Command(inner string, opts ...Option) (*Command, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if inner == "" {
		return nil, ErrEmptyCommand
	}

	description := fmt.Sprintf("docker %s %s: %s", s.Mode, s.Container, inner)
	opts = append([]Option{WithDescription(description)}, opts...)

	return build(KindContainer, s.Args(inner), opts...), nil
}

// WithFlags returns a copy of the spec with the single-word flags added
// unless they are already present.
func (s ContainerSpec) WithFlags(flags ...string) ContainerSpec {
	merged := append([]string(nil), s.Options...)
	for _, f := range flags {
		if !slices.Contains(merged, f) {
			merged = append(merged, f)
		}
	}
	s.Options = merged
	return s
}

// WithOptions returns a copy of the spec with options appended as given.
func (s ContainerSpec) WithOptions(options ...string) ContainerSpec {
	s.Options = append(append([]string(nil), s.Options...), options...)
	return s
}
