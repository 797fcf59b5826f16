package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test_secret"

func TestStripeVerifier(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"invoice.paid","created":1700000000}`)
	now := time.Unix(1700000100, 0)
	v, err := NewVerifier("stripe", testSecret, 5*time.Minute)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, v.Verify(payload, SignStripe(payload, testSecret, now), now))
	})

	t.Run("rolled secret with extra v1", func(t *testing.T) {
		header := SignStripe(payload, testSecret, now) + ",v1=deadbeef,v0=abc"
		assert.NoError(t, v.Verify(payload, header, now))
	})

	t.Run("tampered byte", func(t *testing.T) {
		header := SignStripe(payload, testSecret, now)
		tampered := append([]byte(nil), payload...)
		tampered[8] ^= 0x01
		assert.ErrorIs(t, v.Verify(tampered, header, now), ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		header := SignStripe(payload, "whsec_other", now)
		assert.ErrorIs(t, v.Verify(payload, header, now), ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(payload, "", now), ErrMissingSignature)
	})

	t.Run("no timestamp", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(payload, "v1=abcd", now), ErrInvalidSignature)
	})

	t.Run("garbage timestamp", func(t *testing.T) {
		assert.ErrorIs(t, v.Verify(payload, "t=soon,v1=abcd", now), ErrInvalidSignature)
	})

	t.Run("header older than tolerance", func(t *testing.T) {
		signedAt := now.Add(-10 * time.Minute)
		header := SignStripe(payload, testSecret, signedAt)
		assert.ErrorIs(t, v.Verify(payload, header, now), ErrSignatureExpired)
	})
}

func TestHMACVerifier(t *testing.T) {
	payload := []byte(`{"id":"evt_2"}`)
	v, err := NewVerifier("hmac", testSecret, 0)
	require.NoError(t, err)
	now := time.Now()

	assert.NoError(t, v.Verify(payload, SignHMAC(payload, testSecret), now))
	assert.NoError(t, v.Verify(payload, "sha256="+SignHMAC(payload, testSecret), now))
	assert.ErrorIs(t, v.Verify(payload, "zz-not-hex", now), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify([]byte(`{"id":"evt_3"}`), SignHMAC(payload, testSecret), now), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify(payload, "", now), ErrMissingSignature)
}

func TestNewVerifier_UnknownScheme(t *testing.T) {
	_, err := NewVerifier("md5", testSecret, 0)
	assert.Error(t, err)
}

func TestVerifier_EmptySecretNeverVerifies(t *testing.T) {
	payload := []byte(`{}`)
	v, err := NewVerifier("hmac", "  ", 0)
	require.NoError(t, err)
	assert.ErrorIs(t, v.Verify(payload, SignHMAC(payload, ""), time.Now()), ErrMissingSignature)
}
