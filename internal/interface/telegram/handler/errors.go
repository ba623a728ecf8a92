package handler

import (
	"context"
	"errors"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram"
)

// LogError logs every ingestion failure. A 409 from getUpdates means another
// instance is polling the same token, which is worth a louder line.
func LogError(_ context.Context, ectx *telegram.ErrorContext) error {
	ev := ectx.Event

	var apiErr *tgapi.APIError
	if errors.As(ev.Err, &apiErr) && apiErr.IsConflict() {
		ectx.Logger.Error("another instance is consuming updates for this token",
			"error", ev.Err,
			"offset", offsetAttr(ev.Offset),
		)
		return nil
	}

	ectx.Logger.Warn("update ingestion failed",
		"kind", ev.Kind,
		"error", ev.Err,
		"offset", offsetAttr(ev.Offset),
	)
	return nil
}

func offsetAttr(offset *int64) any {
	if offset == nil {
		return nil
	}
	return *offset
}
