package notify

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const DefaultTimeout = 5 * time.Second

// NewHTTPClient returns the retrying client used for webhooks and pings.
// The last response is handed back after retries instead of an error.
func NewHTTPClient(log *zap.SugaredLogger, timeout time.Duration, retries int) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = timeout
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = leveledLogger{log: log}
	return client
}

type leveledLogger struct {
	log *zap.SugaredLogger
}

func (l leveledLogger) sugar() *zap.SugaredLogger {
	if l.log == nil {
		return zap.NewNop().Sugar()
	}
	return l.log
}

func (l leveledLogger) Error(msg string, kv ...any) { l.sugar().Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.sugar().Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.sugar().Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.sugar().Warnw(msg, kv...) }
