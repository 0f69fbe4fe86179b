// Package signing produces expiring HMAC signed download links for exported
// experiment files. A link carries the object key, the expiry as unix
// seconds and the hex signature over both.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrBadSignature is returned when a signature does not match its link.
	ErrBadSignature = errors.New("invalid signature")
	// ErrExpired is returned for a correctly signed link past its expiry.
	ErrExpired = errors.New("link expired")
)

// Signer generates and validates link signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature of key expiring at expiresUnix.
func (s *Signer) Sign(key string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", key, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// URL returns a link to key under base valid for ttl.
func (s *Signer) URL(base, key string, ttl time.Duration) string {
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("key", key)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.Sign(key, expires))
	return base + "?" + q.Encode()
}

// Verify checks a link's signature, then its expiry.
func (s *Signer) Verify(key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	// Constant time comparison.
	if !hmac.Equal([]byte(s.Sign(key, exp)), []byte(signature)) {
		return ErrBadSignature
	}
	if s.now().Unix() > exp {
		return ErrExpired
	}
	return nil
}
