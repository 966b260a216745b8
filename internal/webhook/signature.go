package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook signature headers set by the provider.
const (
	HeaderID        = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"
)

// signatureTolerance bounds the accepted clock skew between the signed
// timestamp and the receiving host.
const signatureTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing webhook signature headers")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
	ErrBadSignature     = errors.New("webhook signature mismatch")
)

// Verifier checks webhook payload signatures against a shared secret.
// The provider signs "<id>.<timestamp>.<body>" with HMAC-SHA256 and sends
// one or more "v1,<base64>" signatures space-separated in a single header.
type Verifier struct {
	key []byte
	now func() time.Time
}

// NewVerifier builds a Verifier from the signing secret. A "whsec_" prefix,
// if present, is stripped and the remainder base64-decoded.
func NewVerifier(secret string) (*Verifier, error) {
	trimmed := strings.TrimPrefix(secret, "whsec_")
	key, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook signing secret: %w", err)
	}
	return &Verifier{key: key, now: time.Now}, nil
}

// Verify checks the raw payload against the id, timestamp and signature
// header values. Comparison is constant-time per candidate signature.
func (v *Verifier) Verify(msgID, timestamp, signatures string, payload []byte) error {
	if msgID == "" || timestamp == "" || signatures == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid webhook timestamp: %w", err)
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, v.key)
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range strings.Fields(signatures) {
		version, sig, found := strings.Cut(candidate, ",")
		if !found || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrBadSignature
}
