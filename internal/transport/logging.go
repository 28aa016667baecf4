package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

type ctxKey string

const attemptIDKey ctxKey = "untis.attemptID"

// WithAttemptID stores the correlation id of an authentication attempt in ctx.
func WithAttemptID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, attemptIDKey, id)
}

// AttemptIDFromCtx fetches the attempt id from ctx.
func AttemptIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	v := ctx.Value(attemptIDKey)
	if v == nil {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// loggingTransport logs request metadata only: never bodies, cookies or query strings.
type loggingTransport struct {
	next http.RoundTripper
	log  *zap.Logger
}

func withLogging(hc *http.Client, log *zap.Logger) *http.Client {
	next := hc.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	cp := *hc
	cp.Transport = &loggingTransport{next: next, log: log}
	return &cp
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.next.RoundTrip(req)

	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("host", req.URL.Host),
		zap.String("path", req.URL.Path),
		zap.Duration("dur", time.Since(start)),
	}
	if id, ok := AttemptIDFromCtx(req.Context()); ok {
		fields = append(fields, zap.String("attempt", id.String()))
	}
	if err != nil {
		t.log.Debug("http", append(fields, zap.Error(err))...)
		return nil, err
	}
	t.log.Debug("http", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}
