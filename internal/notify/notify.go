// Package notify sends the per-container outcome of a backup or restore run.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Mode string

const (
	// ModeAuto notifies only when something failed.
	ModeAuto   Mode = "auto"
	ModeAlways Mode = "always"
	ModeNever  Mode = "never"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeAlways, ModeNever:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("invalid notify mode: %s (must be auto, always, or never)", s)
	}
}

func (m Mode) ShouldNotify(failed bool) bool {
	switch m {
	case ModeAlways:
		return true
	case ModeNever:
		return false
	default:
		return failed
	}
}

type Severity string

const (
	SeverityGood     Severity = "good"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

type Field struct {
	Title string
	Value string
}

type Message struct {
	Title       string
	Severity    Severity
	Description string
	Fields      []Field
	Time        time.Time
}

// Notifier delivers a message over some transport.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// RunMessage summarizes the commands of one container run. verb is "Backup"
// or "Restore".
func RunMessage(verb, container string, successful, failed []string) Message {
	msg := Message{
		Fields: []Field{
			{Title: "Successful", Value: strings.Join(successful, "\n")},
			{Title: "Failure", Value: strings.Join(failed, "\n")},
		},
		Time: time.Now(),
	}
	if len(failed) > 0 {
		msg.Title = fmt.Sprintf("Failed to %s %s", verb, container)
		msg.Severity = SeverityError
	} else {
		msg.Title = fmt.Sprintf("%s %s", container, pastTense(verb))
		msg.Severity = SeverityGood
	}
	return msg
}

func pastTense(verb string) string {
	switch verb {
	case "Backup":
		return "Backed Up"
	case "Restore":
		return "Restored"
	default:
		return verb + " Done"
	}
}

// LogNotifier writes messages to the log. It is used when no transport is
// configured.
type LogNotifier struct {
	Log *zap.SugaredLogger
}

func (n LogNotifier) Notify(_ context.Context, msg Message) error {
	log := n.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	kv := []any{"title", msg.Title, "severity", msg.Severity}
	for _, f := range msg.Fields {
		kv = append(kv, strings.ToLower(f.Title), f.Value)
	}
	if msg.Severity == SeverityGood {
		log.Infow("notification", kv...)
	} else {
		log.Errorw("notification", kv...)
	}
	return nil
}
