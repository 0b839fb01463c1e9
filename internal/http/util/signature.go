package util

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

// SignatureHeader carries the HMAC of a webhook body.
const SignatureHeader = "X-PowerTrack-Signature"

var (
	ErrInvalidSignature = errors.New("invalid or expired signature")
	ErrMissingSecret    = errors.New("webhook secret is not configured")
)

// PayloadSigner encapsulates HMAC-SHA256 signing of webhook bodies so
// handlers and the notifier stay small. Signatures have the form
// t=<unix seconds>,v1=<hex hmac of "t.body">.
type PayloadSigner struct {
	secret    []byte
	tolerance time.Duration
	nowFn     func() time.Time
}

// NewPayloadSigner returns a signer; tolerance bounds the accepted clock skew
// on verification, zero disables the check.
func NewPayloadSigner(secret []byte, tolerance time.Duration) *PayloadSigner {
	return &PayloadSigner{
		secret:    secret,
		tolerance: tolerance,
		nowFn:     time.Now,
	}
}

// Sign returns the signature header value for body.
func (s *PayloadSigner) Sign(body []byte) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}
	ts := strconv.FormatInt(s.nowFn().Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(s.mac(ts, body))), nil
}

// Verify checks the signature header against body.
func (s *PayloadSigner) Verify(header string, body []byte) error {
	if len(s.secret) == 0 {
		return ErrMissingSecret
	}

	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrInvalidSignature
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return ErrInvalidSignature
	}

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(provided, s.mac(ts, body)) {
		return ErrInvalidSignature
	}

	if s.tolerance > 0 {
		unix, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return ErrInvalidSignature
		}
		skew := s.nowFn().Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > s.tolerance {
			return ErrInvalidSignature
		}
	}
	return nil
}

func (s *PayloadSigner) mac(ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}
