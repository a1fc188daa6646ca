// Package healthcheck pings an hc-ping style monitor around container runs.
package healthcheck

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aelpxy/abackup/internal/notify"
	"github.com/aelpxy/abackup/pkg/models"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://hc-ping.com"

type Check struct {
	BaseURL         string
	UUID            string
	IncludeMessages bool
	NotifyStart     bool
}

// Merge overlays the fields set in override on top of def.
func Merge(def models.HealthcheckConfig, override *models.HealthcheckConfig) Check {
	merged := def
	if override != nil {
		if override.BaseURL != "" {
			merged.BaseURL = override.BaseURL
		}
		if override.UUID != "" {
			merged.UUID = override.UUID
		}
		if override.IncludeMessages != nil {
			merged.IncludeMessages = override.IncludeMessages
		}
		if override.NotifyStart != nil {
			merged.NotifyStart = override.NotifyStart
		}
	}

	check := Check{BaseURL: merged.BaseURL, UUID: merged.UUID}
	if check.BaseURL == "" {
		check.BaseURL = DefaultBaseURL
	}
	if merged.IncludeMessages != nil {
		check.IncludeMessages = *merged.IncludeMessages
	}
	if merged.NotifyStart != nil {
		check.NotifyStart = *merged.NotifyStart
	}
	return check
}

func (c Check) Valid() bool {
	return c.BaseURL != "" && c.UUID != ""
}

func (c Check) url(suffix string) string {
	return fmt.Sprintf("%s/%s%s", strings.TrimRight(c.BaseURL, "/"), c.UUID, suffix)
}

type Result struct {
	Code    int
	Message string
	Err     error
}

func (r Result) IsError() bool {
	return r.Err != nil || r.Code != http.StatusOK
}

// Pinger resolves each container's check against the global default and
// reports ping failures through the notifier.
type Pinger struct {
	Default  models.HealthcheckConfig
	Checks   map[string]*models.HealthcheckConfig
	Notifier notify.Notifier
	Mode     notify.Mode

	client *retryablehttp.Client
	log    *zap.SugaredLogger
}

func NewPinger(def models.HealthcheckConfig, notifier notify.Notifier, mode notify.Mode, log *zap.SugaredLogger) *Pinger {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pinger{
		Default:  def,
		Checks:   make(map[string]*models.HealthcheckConfig),
		Notifier: notifier,
		Mode:     mode,
		client:   notify.NewHTTPClient(log, notify.DefaultTimeout, 2),
		log:      log,
	}
}

func (p *Pinger) Register(container string, check *models.HealthcheckConfig) {
	p.Checks[container] = check
}

func (p *Pinger) check(container string) Check {
	return Merge(p.Default, p.Checks[container])
}

func (p *Pinger) Start(ctx context.Context, container string) {
	check := p.check(container)
	if !check.NotifyStart {
		return
	}
	p.report(ctx, container, p.request(ctx, check, http.MethodGet, "/start", nil))
}

func (p *Pinger) Success(ctx context.Context, container string) {
	check := p.check(container)
	p.report(ctx, container, p.request(ctx, check, http.MethodGet, "", nil))
}

func (p *Pinger) Failure(ctx context.Context, container, message string) {
	check := p.check(container)
	var body []byte
	if check.IncludeMessages {
		body = []byte(message)
	}
	p.report(ctx, container, p.request(ctx, check, http.MethodPost, "/fail", body))
}

func (p *Pinger) request(ctx context.Context, check Check, method, suffix string, body []byte) Result {
	if !check.Valid() {
		return Result{Code: -1, Err: fmt.Errorf("no base_url or uuid configured")}
	}

	var reqBody any
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, check.url(suffix), reqBody)
	if err != nil {
		return Result{Code: -1, Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{Code: -1, Err: err}
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return Result{Code: resp.StatusCode, Message: strings.TrimSpace(string(text))}
}

func (p *Pinger) report(ctx context.Context, container string, result Result) {
	if !result.IsError() {
		p.log.Debugw("healthcheck ping sent", "container", container, "code", result.Code)
		return
	}

	message := result.Message
	if result.Err != nil {
		message = result.Err.Error()
	}
	text := fmt.Sprintf("Failed to perform healthcheck for %s - code: %d message: %s", container, result.Code, message)

	if p.Notifier == nil || !p.Mode.ShouldNotify(true) {
		p.log.Errorw("healthcheck failed", "container", container, "code", result.Code, "message", message)
		return
	}

	err := p.Notifier.Notify(ctx, notify.Message{
		Title:    fmt.Sprintf("Failed to Perform Healthcheck for %s", container),
		Severity: notify.SeverityCritical,
		Fields:   []notify.Field{{Title: "Failure", Value: text}},
	})
	if err != nil {
		p.log.Errorw("failed to send healthcheck notification", "container", container, "error", err)
	}
}
