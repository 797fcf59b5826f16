package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntry(t *testing.T) {
	e := NewEntry(ActionPaymentFailed, SeverityWarning, map[string]string{"payment_id": "p1"}, nil)

	require.NotNil(t, e)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, ActionPaymentFailed, e.Action)
	assert.Equal(t, SeverityWarning, e.Severity)
	assert.Equal(t, "p1", e.EntityRefs["payment_id"])
	assert.NotNil(t, e.Metadata)
	assert.Nil(t, e.RedactedAt)
}

func TestEntry_RedactOnce(t *testing.T) {
	e := NewEntry(ActionSubscriptionCreated, SeverityInfo, nil, map[string]any{
		"customer_email": "someone@example.com",
		"plan_id":        "plan-pro",
		"source_ip":      "10.0.0.1",
	})
	now := time.Now().UTC()

	assert.True(t, e.Redact(now))
	assert.Equal(t, "[redacted]", e.Metadata["customer_email"])
	assert.Equal(t, "[redacted]", e.Metadata["source_ip"])
	assert.Equal(t, "plan-pro", e.Metadata["plan_id"])
	require.NotNil(t, e.RedactedAt)

	assert.False(t, e.Redact(now.Add(time.Hour)))
	assert.Equal(t, now, *e.RedactedAt)
}
