package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/clubbilling/pkg/logger"
	"github.com/dmitrymomot/clubbilling/pkg/provider"
	"github.com/dmitrymomot/clubbilling/pkg/reconciler"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Stripe-Signature"

// EventParser verifies and decodes a webhook payload. *provider.Stripe
// implements it.
type EventParser interface {
	ParseEvent(payload []byte, sigHeader string) (reconciler.Event, error)
}

// Receiver takes verified events. *reconciler.Reconciler implements it.
type Receiver interface {
	Receive(ctx context.Context, ev reconciler.Event) (reconciler.Outcome, error)
}

type webhookResponse struct {
	Outcome reconciler.Outcome `json:"outcome,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// WebhookHandler verifies incoming provider events and hands them to recv.
func WebhookHandler(parser EventParser, recv Receiver, log *slog.Logger, maxBody int64) http.HandlerFunc {
	log = logger.OrDiscard(log)
	if maxBody <= 0 {
		maxBody = 256 << 10
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, webhookResponse{Error: "payload too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "unreadable body"})
			return
		}

		ev, err := parser.ParseEvent(payload, r.Header.Get(SignatureHeader))
		if err != nil {
			switch {
			case errors.Is(err, provider.ErrNotConfigured):
				log.ErrorContext(ctx, "webhook secret is not configured")
				writeJSON(w, http.StatusServiceUnavailable, webhookResponse{Error: "not configured"})
			default:
				log.WarnContext(ctx, "rejected billing webhook", logger.Error(err))
				writeJSON(w, http.StatusBadRequest, webhookResponse{Error: "invalid event"})
			}
			return
		}

		outcome, err := recv.Receive(ctx, ev)
		switch {
		case errors.Is(err, reconciler.ErrInvalidEvent):
			writeJSON(w, http.StatusBadRequest, webhookResponse{Error: err.Error()})
		case err != nil:
			log.ErrorContext(ctx, "failed to record billing event",
				logger.EventID(ev.ID), logger.EventType(ev.Type), logger.Error(err))
			writeJSON(w, http.StatusInternalServerError, webhookResponse{Error: "internal error"})
		case outcome == reconciler.OutcomeFailed:
			writeJSON(w, http.StatusInternalServerError, webhookResponse{Outcome: outcome})
		default:
			writeJSON(w, http.StatusOK, webhookResponse{Outcome: outcome})
		}
	}
}
