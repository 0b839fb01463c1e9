package util

import (
	"errors"
	"testing"
	"time"
)

func TestPayloadSigner_RoundTrip(t *testing.T) {
	signer := NewPayloadSigner([]byte("s3cret"), 5*time.Minute)
	body := []byte(`{"orderId":"o-1"}`)

	header, err := signer.Sign(body)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	if err := signer.Verify(header, body); err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
}

func TestPayloadSigner_RejectsTampering(t *testing.T) {
	signer := NewPayloadSigner([]byte("s3cret"), 0)
	header, err := signer.Sign([]byte(`{"orderValue":10}`))
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	cases := map[string]struct {
		header string
		body   []byte
	}{
		"body changed":   {header, []byte(`{"orderValue":1000}`)},
		"garbage header": {"nonsense", []byte(`{"orderValue":10}`)},
		"missing v1":     {"t=1700000000", []byte(`{"orderValue":10}`)},
		"bad hex":        {"t=1700000000,v1=zz", []byte(`{"orderValue":10}`)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if err := signer.Verify(tc.header, tc.body); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}

	other := NewPayloadSigner([]byte("different"), 0)
	if err := other.Verify(header, []byte(`{"orderValue":10}`)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for wrong secret, got %v", err)
	}
}

func TestPayloadSigner_Expired(t *testing.T) {
	signer := NewPayloadSigner([]byte("s3cret"), time.Minute)
	signer.nowFn = func() time.Time { return time.Unix(1_700_000_000, 0) }
	body := []byte("{}")

	header, err := signer.Sign(body)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	signer.nowFn = func() time.Time { return time.Unix(1_700_000_000, 0).Add(2 * time.Minute) }
	if err := signer.Verify(header, body); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected expired signature to fail, got %v", err)
	}
}

func TestPayloadSigner_MissingSecret(t *testing.T) {
	signer := NewPayloadSigner(nil, 0)
	if _, err := signer.Sign([]byte("{}")); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if err := signer.Verify("t=1,v1=00", []byte("{}")); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}
