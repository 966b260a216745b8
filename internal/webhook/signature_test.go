package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"
)

const testSecret = "whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw"

func signPayload(t *testing.T, secret, msgID, timestamp string, payload []byte) string {
	t.Helper()
	key, err := base64.StdEncoding.DecodeString(secret[len("whsec_"):])
	if err != nil {
		t.Fatal(err)
	}
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", msgID, timestamp)
	mac.Write(payload)
	return "v1," + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestVerifier(t *testing.T, at time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	v.now = func() time.Time { return at }
	return v
}

func TestVerifyValidSignature(t *testing.T) {
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	payload := []byte(`{"type":"email.delivered"}`)
	sig := signPayload(t, testSecret, "msg_1", ts, payload)

	v := newTestVerifier(t, now)
	if err := v.Verify("msg_1", ts, sig, payload); err != nil {
		t.Fatalf("Verify() = %v", err)
	}
}

func TestVerifyMultipleCandidates(t *testing.T) {
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	payload := []byte(`{}`)
	good := signPayload(t, testSecret, "msg_1", ts, payload)
	bogus := "v1," + base64.StdEncoding.EncodeToString([]byte("nope"))

	v := newTestVerifier(t, now)
	if err := v.Verify("msg_1", ts, bogus+" "+good, payload); err != nil {
		t.Fatalf("Verify() = %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := signPayload(t, testSecret, "msg_1", ts, []byte(`{"a":1}`))

	v := newTestVerifier(t, now)
	err := v.Verify("msg_1", ts, sig, []byte(`{"a":2}`))
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Verify() = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsWrongID(t *testing.T) {
	now := time.Now()
	ts := strconv.FormatInt(now.Unix(), 10)
	payload := []byte(`{}`)
	sig := signPayload(t, testSecret, "msg_1", ts, payload)

	v := newTestVerifier(t, now)
	if err := v.Verify("msg_2", ts, sig, payload); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Verify() = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	now := time.Now()
	old := now.Add(-6 * time.Minute)
	ts := strconv.FormatInt(old.Unix(), 10)
	payload := []byte(`{}`)
	sig := signPayload(t, testSecret, "msg_1", ts, payload)

	v := newTestVerifier(t, now)
	if err := v.Verify("msg_1", ts, sig, payload); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("Verify() = %v, want ErrStaleTimestamp", err)
	}
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	now := time.Now()
	future := now.Add(6 * time.Minute)
	ts := strconv.FormatInt(future.Unix(), 10)
	payload := []byte(`{}`)
	sig := signPayload(t, testSecret, "msg_1", ts, payload)

	v := newTestVerifier(t, now)
	if err := v.Verify("msg_1", ts, sig, payload); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("Verify() = %v, want ErrStaleTimestamp", err)
	}
}

func TestVerifyMissingHeaders(t *testing.T) {
	v := newTestVerifier(t, time.Now())
	if err := v.Verify("", "123", "v1,abc", []byte(`{}`)); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("Verify() = %v, want ErrMissingSignature", err)
	}
	if err := v.Verify("msg_1", "", "v1,abc", []byte(`{}`)); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("Verify() = %v, want ErrMissingSignature", err)
	}
	if err := v.Verify("msg_1", "123", "", []byte(`{}`)); !errors.Is(err, ErrMissingSignature) {
		t.Fatalf("Verify() = %v, want ErrMissingSignature", err)
	}
}

func TestNewVerifierRejectsBadSecret(t *testing.T) {
	if _, err := NewVerifier("whsec_!!!not-base64!!!"); err == nil {
		t.Fatal("expected error for undecodable secret")
	}
}
