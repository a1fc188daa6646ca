package command

import (
	"fmt"
	"strconv"

	"github.com/kballard/go-shellquote"
)

type Remote struct {
	Host   string `toml:"host"`
	Port   int    `toml:"port"`
	User   string `toml:"user"`
	SSHKey string `toml:"ssh_key"`
}

func (r Remote) SSHOptions() []string {
	var options []string
	if r.Port != 0 {
		options = append(options, "-p", strconv.Itoa(r.Port))
	}
	if r.SSHKey != "" {
		options = append(options, "-i", r.SSHKey)
	}
	return options
}

func (r Remote) ConnectionString() string {
	if r.User != "" {
		return fmt.Sprintf("%s@%s", r.User, r.Host)
	}
	return r.Host
}

func (r Remote) String() string {
	return r.ConnectionString()
}

// NewRemote wraps inner so that it runs on the remote host over ssh.
// With loginShell the remote side runs it through `bash --login -c`; without
// it the inner words are passed to the remote shell as they are.
func NewRemote(remote Remote, inner []string, loginShell bool, opts ...Option) (*Command, error) {
	if len(inner) == 0 {
		return nil, ErrEmptyCommand
	}
	if remote.Host == "" {
		return nil, fmt.Errorf("remote host not set")
	}

	remoteLine := shellquote.Join(inner...)
	if loginShell {
		remoteLine = shellquote.Join("bash", "--login", "-c", remoteLine)
	}

	args := []string{"ssh"}
	args = append(args, remote.SSHOptions()...)
	args = append(args, remote.ConnectionString(), remoteLine)

	description := fmt.Sprintf("%s: %s", remote.ConnectionString(), shellquote.Join(inner...))
	opts = append([]Option{WithDescription(description)}, opts...)

	return build(KindRemote, args, opts...), nil
}

// NewRemoteLine is NewRemote for a command given as a single shell line.
func NewRemoteLine(remote Remote, line string, loginShell bool, opts ...Option) (*Command, error) {
	inner, err := shellquote.Split(line)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", line, err)
	}
	return NewRemote(remote, inner, loginShell, opts...)
}
