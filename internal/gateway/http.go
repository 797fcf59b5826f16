package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	domainErrors "github.com/cassiomorais/billingsync/internal/domain/errors"
	"github.com/cassiomorais/billingsync/internal/infrastructure/config"
	"github.com/cassiomorais/billingsync/pkg/retry"
	"github.com/rs/zerolog"
)

// HTTPClient calls a Stripe-compatible REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retry   retry.Config
	logger  zerolog.Logger
}

func NewHTTPClient(cfg config.GatewayConfig, logger zerolog.Logger) *HTTPClient {
	l := logger.With().Str("component", "gateway").Logger()
	rc := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		rc.MaxAttempts = uint(cfg.MaxRetries)
	}
	if cfg.RetryDelay > 0 {
		rc.InitialDelay = cfg.RetryDelay
	}
	rc.RetryIf = isTransient
	rc.OnRetry = func(n uint, err error) {
		l.Warn().Err(err).Uint("attempt", n+1).Msg("Retrying gateway request")
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		retry:   rc,
		logger:  l,
	}
}

func (c *HTTPClient) Name() string { return "stripe" }

type invoiceResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Charge string `json:"charge"`
}

func (c *HTTPClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var inv invoiceResponse
	path := "/v1/invoices/" + url.PathEscape(req.InvoiceID) + "/pay"
	if err := c.do(ctx, http.MethodPost, path, url.Values{}, req.IdempotencyKey, &inv); err != nil {
		return nil, err
	}
	return &ChargeResult{ChargeID: inv.Charge, Status: inv.Status}, nil
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *HTTPClient) Refund(ctx context.Context, req RefundRequest) (*ChargeResult, error) {
	form := url.Values{"charge": {req.ChargeID}}
	if req.AmountCents > 0 {
		form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	}
	if req.Reason != "" {
		form.Set("reason", req.Reason)
	}

	var r refundResponse
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", form, "refund-"+req.ChargeID, &r); err != nil {
		return nil, err
	}
	return &ChargeResult{ChargeID: r.ID, Status: r.Status}, nil
}

type sessionResponse struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Subscription      string            `json:"subscription"`
	Customer          string            `json:"customer"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
	CustomerDetails   struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

func (c *HTTPClient) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var s sessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, "", &s); err != nil {
		return nil, err
	}

	companyID := s.Metadata["company_id"]
	if companyID == "" {
		companyID = s.ClientReferenceID
	}
	return &CheckoutSession{
		ID:             s.ID,
		CompanyID:      companyID,
		PlanID:         s.Metadata["plan_id"],
		SubscriptionID: s.Subscription,
		CustomerID:     s.Customer,
		CustomerEmail:  s.CustomerDetails.Email,
		AmountTotal:    s.AmountTotal,
		Currency:       s.Currency,
		Paid:           s.PaymentStatus == "paid",
		Complete:       s.Status == "complete",
	}, nil
}

type apiError struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

// statusError is a non-2xx response that is not a card decline.
type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.status, e.message)
}

func (e *statusError) Unwrap() error {
	if e.status == http.StatusTooManyRequests || e.status >= 500 {
		return domainErrors.ErrGatewayUnavailable
	}
	return nil
}

func isTransient(err error) bool {
	return errors.Is(err, domainErrors.ErrGatewayUnavailable) || errors.Is(err, domainErrors.ErrGatewayTimeout)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, form url.Values, idemKey string, out any) error {
	return retry.Do(ctx, c.retry, func() error {
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		if idemKey != "" {
			req.Header.Set("Idempotency-Key", idemKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			var ne interface{ Timeout() bool }
			if errors.As(err, &ne) && ne.Timeout() {
				return fmt.Errorf("%s %s: %w", method, path, domainErrors.ErrGatewayTimeout)
			}
			return fmt.Errorf("%s %s: %v: %w", method, path, err, domainErrors.ErrGatewayUnavailable)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read response: %v: %w", err, domainErrors.ErrGatewayUnavailable)
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.Unmarshal(raw, out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			return nil
		}

		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		if apiErr.Error.Type == "card_error" || resp.StatusCode == http.StatusPaymentRequired {
			code := apiErr.Error.DeclineCode
			if code == "" {
				code = apiErr.Error.Code
			}
			return &domainErrors.GatewayError{Code: code, Message: apiErr.Error.Message}
		}
		return &statusError{status: resp.StatusCode, message: apiErr.Error.Message}
	})
}
