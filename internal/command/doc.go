// Package command builds and runs the processes behind every backup and
// restore step.
//
// Commands come in three kinds: local host commands, commands wrapped in ssh
// for a remote host, and commands run through docker either inside a live
// container or in a helper container that shares its volumes. Every kind is
// an argument vector; shell lines that have to cross a boundary (ssh, sh -c)
// are produced with shell quoting, never by string concatenation.
package command
