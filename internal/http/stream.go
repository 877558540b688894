package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"binledger/internal/apperror"
	applog "binledger/internal/log"
	"binledger/internal/services"
)

const keepAliveInterval = 25 * time.Second

// handleStream sends the account's ledger as server-sent events: a "view"
// event with the whole View on connect and after every change, and a
// final "error" event if the watch fails. Only the newest undelivered
// view is kept, since each one replaces the last.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := applog.FromContext(ctx).WithComponent(applog.ComponentHTTP)

	views := make(chan services.View, 1)
	failures := make(chan error, 1)
	unwatch, err := s.deps.Ledger.Watch(ctx, accountID(r),
		func(v services.View) { offerLatest(views, v) },
		func(err error) {
			select {
			case failures <- err:
			default:
			}
		})
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer unwatch()

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		logger.Warn("Streaming not supported by response writer", applog.FieldError, err)
		return
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v := <-views:
			if err := writeEvent(w, "view", fmt.Sprint(v.Version), v); err != nil {
				logger.Debug("Stream closed", applog.FieldError, err)
				return
			}
		case err := <-failures:
			_ = writeEvent(w, "error", "", errorResponse{Error: "live view failed", Code: apperror.Code(err)})
			_ = rc.Flush()
			logger.Warn("Live view failed", applog.FieldError, err)
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// offerLatest puts v in ch, replacing a view nobody has taken yet.
func offerLatest(ch chan services.View, v services.View) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func writeEvent(w io.Writer, event, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
