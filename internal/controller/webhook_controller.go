package controller

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/cassiomorais/billingsync/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	defaultMaxBodyBytes    = 1 << 20
	defaultSignatureHeader = "Stripe-Signature"
)

// WebhookIngestor runs a delivery through validation and dispatch.
type WebhookIngestor interface {
	Ingest(ctx context.Context, d service.WebhookDelivery) service.IngestResult
}

// WebhookController receives gateway deliveries on POST /webhooks/{provider}.
type WebhookController struct {
	ingestor         WebhookIngestor
	signatureHeaders map[string]string
	maxBodyBytes     int64
}

// NewWebhookController maps each provider to the header carrying its
// signature. Providers missing from the map use Stripe-Signature.
func NewWebhookController(ingestor WebhookIngestor, signatureHeaders map[string]string, maxBodyBytes int64) *WebhookController {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return &WebhookController{
		ingestor:         ingestor,
		signatureHeaders: signatureHeaders,
		maxBodyBytes:     maxBodyBytes,
	}
}

func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, WebhookResponse{Status: "payload_too_large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, WebhookResponse{Status: "unreadable_body"})
		return
	}

	header := h.signatureHeaders[provider]
	if header == "" {
		header = defaultSignatureHeader
	}

	res := h.ingestor.Ingest(r.Context(), service.WebhookDelivery{
		Provider:        provider,
		SourceIP:        clientIP(r),
		SignatureHeader: r.Header.Get(header),
		Body:            body,
	})

	writeJSON(w, res.StatusCode, WebhookResponse{
		Status:  res.Status,
		EventID: res.EventID,
		Outcome: string(res.Outcome),
	})
}

// clientIP strips the port RemoteAddr carries unless RealIP replaced it with a
// forwarded address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
