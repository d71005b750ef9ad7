package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// SignatureHeader carries the provider's "t=<unix>,v1=<hex hmac>" signature.
const SignatureHeader = "Stripe-Signature"

// Verifier authenticates webhook payloads against the shared signing secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: strings.TrimSpace(secret), tolerance: tolerance}
}

// Verify checks the signature over the exact bytes received. The payload must
// not be decoded or re-encoded before this call.
func (v *Verifier) Verify(payload []byte, signatureHeader string) error {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || v.secret == "" {
		return ErrSignatureInvalid
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sig, v.secret, v.tolerance); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return nil
}
