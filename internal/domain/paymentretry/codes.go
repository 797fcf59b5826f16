package paymentretry

import "strings"

var retryableCodes = map[string]struct{}{
	"card_declined":           {},
	"insufficient_funds":      {},
	"processing_error":        {},
	"authentication_required": {},
	"generic_decline":         {},
	"try_again_later":         {},
	"rate_limit":              {},
}

var nonRetryableCodes = map[string]struct{}{
	"expired_card":       {},
	"stolen_card":        {},
	"lost_card":          {},
	"invalid_cvc":        {},
	"incorrect_cvc":      {},
	"incorrect_number":   {},
	"security_violation": {},
	"fraudulent":         {},
	"do_not_honor":       {},
	"pickup_card":        {},
	"restricted_card":    {},
	"invalid_account":    {},
	"card_not_supported": {},
}

// IsRetryable classifies a gateway decline code. Unknown codes are treated as
// permanent.
func IsRetryable(code string) bool {
	_, ok := retryableCodes[normalize(code)]
	return ok
}

// IsKnownCode reports whether code appears in either classification list.
func IsKnownCode(code string) bool {
	c := normalize(code)
	if _, ok := retryableCodes[c]; ok {
		return true
	}
	_, ok := nonRetryableCodes[c]
	return ok
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
