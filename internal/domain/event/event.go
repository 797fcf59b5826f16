package event

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/errors"
)

// Kind is the gateway event type used as the dispatch key.
type Kind string

const (
	KindCheckoutSessionCompleted Kind = "checkout.session.completed"
	KindSubscriptionCreated      Kind = "customer.subscription.created"
	KindSubscriptionUpdated      Kind = "customer.subscription.updated"
	KindSubscriptionDeleted      Kind = "customer.subscription.deleted"
	KindSubscriptionTrialWillEnd Kind = "customer.subscription.trial_will_end"
	KindInvoicePaymentSucceeded  Kind = "invoice.payment_succeeded"
	KindInvoicePaymentFailed     Kind = "invoice.payment_failed"
	KindChargeDisputeCreated     Kind = "charge.dispute.created"
)

// SupportedKinds lists every kind that must have a registered handler.
func SupportedKinds() []Kind {
	return []Kind{
		KindCheckoutSessionCompleted,
		KindSubscriptionCreated,
		KindSubscriptionUpdated,
		KindSubscriptionDeleted,
		KindSubscriptionTrialWillEnd,
		KindInvoicePaymentSucceeded,
		KindInvoicePaymentFailed,
		KindChargeDisputeCreated,
	}
}

// knownUnhandled are kinds the gateway is configured to send that this service
// deliberately ignores.
var knownUnhandled = map[Kind]struct{}{
	"customer.created":             {},
	"customer.updated":             {},
	"invoice.created":              {},
	"invoice.finalized":            {},
	"invoice.paid":                 {},
	"invoice.upcoming":             {},
	"payment_intent.created":       {},
	"payment_intent.succeeded":     {},
	"payment_method.attached":      {},
	"charge.succeeded":             {},
	"checkout.session.expired":     {},
	"customer.subscription.paused": {},
}

// IsKnownUnhandled reports whether k is a recognised gateway kind that has no
// handler on purpose.
func IsKnownUnhandled(k Kind) bool {
	_, ok := knownUnhandled[k]
	return ok
}

// Inbound is an immutable record of one gateway delivery.
type Inbound struct {
	ID         string
	Kind       Kind
	Provider   string
	OccurredAt time.Time
	ReceivedAt time.Time
	Payload    []byte
	Object     Object
}

// Object is the data.object document of an event.
type Object map[string]any

// String returns the string value at key, or "".
func (o Object) String(key string) string {
	v, _ := o[key].(string)
	return v
}

// Int64 returns the numeric value at key, or 0.
func (o Object) Int64(key string) int64 {
	switch v := o[key].(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Time returns the epoch-seconds value at key as a time, or nil.
func (o Object) Time(key string) *time.Time {
	secs := o.Int64(key)
	if secs <= 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}

// Map returns the nested document at key.
func (o Object) Map(key string) Object {
	v, _ := o[key].(map[string]any)
	return Object(v)
}

// Metadata returns the metadata string map, tolerating non-string values.
func (o Object) Metadata() map[string]string {
	raw := o.Map("metadata")
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}

// Parse decodes the gateway envelope without altering the raw bytes, which
// remain the input to signature verification.
func Parse(provider string, raw []byte, receivedAt time.Time) (*Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.NewDomainError("malformed_payload", "decode event envelope", errors.ErrMalformedPayload)
	}
	if strings.TrimSpace(env.ID) == "" {
		return nil, errors.NewDomainError("malformed_payload", "event id missing", errors.ErrMalformedPayload)
	}
	if strings.TrimSpace(env.Type) == "" {
		return nil, errors.NewDomainError("malformed_payload", "event type missing", errors.ErrMalformedPayload)
	}
	if env.Created <= 0 {
		return nil, errors.NewDomainError("malformed_payload", "event created timestamp missing", errors.ErrMalformedPayload)
	}

	payload := make([]byte, len(raw))
	copy(payload, raw)

	return &Inbound{
		ID:         env.ID,
		Kind:       Kind(env.Type),
		Provider:   provider,
		OccurredAt: time.Unix(env.Created, 0).UTC(),
		ReceivedAt: receivedAt,
		Payload:    payload,
		Object:     Object(env.Data.Object),
	}, nil
}

// Rehydrate rebuilds an Inbound from a stored payload, used by the retry sweep.
func Rehydrate(provider string, payload []byte) (*Inbound, error) {
	return Parse(provider, payload, time.Now().UTC())
}
