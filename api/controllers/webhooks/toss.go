package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/hanseoyun/shopcore-backend/api/responses"
	tosswebhook "github.com/hanseoyun/shopcore-backend/internal/webhooks/toss"
	pkgerrors "github.com/hanseoyun/shopcore-backend/pkg/errors"
	"github.com/hanseoyun/shopcore-backend/pkg/logger"
	"github.com/hanseoyun/shopcore-backend/pkg/toss"
)

type TossWebhookService interface {
	HandleEvent(ctx context.Context, event *toss.WebhookEvent) (tosswebhook.Outcome, error)
}

type tossSignatureVerifier interface {
	VerifyWebhookSignature(body []byte, signature string) bool
}

// TossWebhook receives payment lifecycle events from the gateway. The
// response body is plain JSON rather than the API envelope because the
// gateway only inspects the status code.
func TossWebhook(svc TossWebhookService, verifier tossSignatureVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signature verifier unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(toss.SignatureHeader))
		if signature == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature missing"))
			return
		}
		if !verifier.VerifyWebhookSignature(payload, signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		var event toss.WebhookEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode event"))
			return
		}

		outcome, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		switch outcome {
		case tosswebhook.OutcomeIgnored:
			writeAck(w, "Event ignored")
		case tosswebhook.OutcomeAlreadyApplied:
			writeAck(w, "Event already applied")
		default:
			writeAck(w, "Event processed")
		}
	}
}

func writeAck(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
