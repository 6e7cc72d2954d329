package log

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/layer-3/usdcpay/internal/requestid"
	"github.com/lmittmann/tint"
)

// requestScoped stamps each record with the request_id found in its
// context. Everything else is delegated to the wrapped handler.
type requestScoped struct {
	slog.Handler
}

func (h requestScoped) Handle(ctx context.Context, r slog.Record) error {
	if id := requestid.From(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h requestScoped) WithAttrs(attrs []slog.Attr) slog.Handler {
	return requestScoped{h.Handler.WithAttrs(attrs)}
}

func (h requestScoped) WithGroup(name string) slog.Handler {
	return requestScoped{h.Handler.WithGroup(name)}
}

// New builds the process logger: colored text locally, JSON elsewhere.
func New(w io.Writer, env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(requestScoped{inner})
}
