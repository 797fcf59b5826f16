package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingSignature = errors.New("signature header missing")
	ErrInvalidSignature = errors.New("signature mismatch")
	ErrSignatureExpired = errors.New("signature timestamp outside tolerance")
)

// Verifier checks a provider's signature header against the raw body.
type Verifier interface {
	Verify(payload []byte, header string, now time.Time) error
}

// NewVerifier returns the verifier for a configured signing scheme.
func NewVerifier(scheme, secret string, tolerance time.Duration) (Verifier, error) {
	secret = strings.TrimSpace(secret)
	switch scheme {
	case "stripe":
		return &StripeVerifier{secret: []byte(secret), tolerance: tolerance}, nil
	case "hmac":
		return &HMACVerifier{secret: []byte(secret)}, nil
	default:
		return nil, fmt.Errorf("unknown signature scheme %q", scheme)
	}
}

// StripeVerifier handles "t=<unix>,v1=<hex>[,v1=<hex>...]" headers where each
// v1 is HMAC-SHA256 over "<t>.<payload>". Multiple v1 values appear while a
// secret is being rolled.
type StripeVerifier struct {
	secret    []byte
	tolerance time.Duration
}

func (v *StripeVerifier) Verify(payload []byte, header string, now time.Time) error {
	header = strings.TrimSpace(header)
	if header == "" || len(v.secret) == 0 {
		return ErrMissingSignature
	}

	var (
		ts   int64
		sigs [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			ts = n
		case "v1":
			sig, err := hex.DecodeString(strings.ToLower(val))
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	matched := false
	for _, sig := range sigs {
		if hmac.Equal(expected, sig) {
			matched = true
			break
		}
	}
	if !matched {
		return ErrInvalidSignature
	}

	if v.tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return ErrSignatureExpired
		}
	}
	return nil
}

// HMACVerifier handles a bare hex HMAC-SHA256 digest of the payload.
type HMACVerifier struct {
	secret []byte
}

func (v *HMACVerifier) Verify(payload []byte, header string, _ time.Time) error {
	sig := strings.TrimSpace(header)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" || len(v.secret) == 0 {
		return ErrMissingSignature
	}

	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), decoded) {
		return ErrInvalidSignature
	}
	return nil
}

// SignStripe produces a header the StripeVerifier accepts.
func SignStripe(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// SignHMAC produces a header the HMACVerifier accepts.
func SignHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
