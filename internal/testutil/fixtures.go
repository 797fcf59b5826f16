package testutil

import (
	"encoding/json"
	"time"

	"github.com/cassiomorais/billingsync/internal/domain/event"
	"github.com/cassiomorais/billingsync/internal/domain/payment"
	"github.com/cassiomorais/billingsync/internal/domain/subscription"
	"github.com/google/uuid"
)

func NewTestSubscription(companyID, gatewayID string, status subscription.Status) *subscription.Subscription {
	now := time.Now().UTC()
	return &subscription.Subscription{
		ID:                    uuid.New(),
		CompanyID:             companyID,
		PlanID:                "plan-pro",
		GatewaySubscriptionID: gatewayID,
		GatewayCustomerID:     "cus_" + companyID,
		Status:                status,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}

func NewTestPayment(companyID, gatewayRef string, amountCents int64, status payment.Status) *payment.Payment {
	now := time.Now().UTC()
	return &payment.Payment{
		ID:         uuid.New(),
		CompanyID:  companyID,
		GatewayRef: gatewayRef,
		Amount:     payment.Amount{ValueCents: amountCents, Currency: "USD"},
		Status:     status,
		Metadata:   make(map[string]any),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// EventPayload builds a gateway event envelope around object.
func EventPayload(id string, kind event.Kind, created time.Time, object map[string]any) []byte {
	raw, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    string(kind),
		"created": created.Unix(),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}
	return raw
}

// NewInbound parses EventPayload output the way ingestion does.
func NewInbound(id string, kind event.Kind, object map[string]any) *event.Inbound {
	now := time.Now().UTC()
	evt, err := event.Parse("stripe", EventPayload(id, kind, now, object), now)
	if err != nil {
		panic(err)
	}
	return evt
}
