package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

func ensureInstanceID(v string) string {
	if v != "" {
		return v
	}

	hn, _ := os.Hostname()
	uid := uuid.New().String()[:8]
	return hn + "-" + uid
}

func commonAttr(cfg Config) []slog.Attr {
	return []slog.Attr{
		slog.String("service", cfg.Service),
		slog.String("env", string(cfg.Env)),
		slog.String("version", cfg.Version),
		slog.String("instance_id", cfg.InstanceID),
		slog.Time("started_at", time.Now()),
	}
}

// AttrsFromCtx достаёт request id, проставленный chi middleware.
func AttrsFromCtx(ctx context.Context) []slog.Attr {
	reqID := middleware.GetReqID(ctx)
	if reqID == "" {
		return nil
	}
	return []slog.Attr{slog.String("request_id", reqID)}
}
