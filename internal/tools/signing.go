package tools

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Peer request headers.
const (
	HeaderPeerToken     = "X-Peer-Token"
	HeaderPeerTimestamp = "X-Peer-Timestamp"
	HeaderPeerSignature = "X-Peer-Signature"
	HeaderRequestID     = "X-Request-ID"
)

// DefaultMaxSkew bounds how far a signed timestamp may drift from the
// verifier's clock.
const DefaultMaxSkew = 5 * time.Minute

// ErrBadSignature is returned by VerifyRequest for any authentication
// failure.
var ErrBadSignature = errors.New("peer request authentication failed")

// SignRequest attaches token, timestamp and body signature headers.
func SignRequest(req *http.Request, token string, body []byte, now time.Time) {
	ts := strconv.FormatInt(now.UTC().Unix(), 10)
	req.Header.Set(HeaderPeerToken, token)
	req.Header.Set(HeaderPeerTimestamp, ts)
	req.Header.Set(HeaderPeerSignature, signature(req.Method, req.URL.Path, ts, body, token))
}

// VerifyRequest checks the token, timestamp freshness and signature of a
// signed peer request.
func VerifyRequest(req *http.Request, token string, body []byte, now time.Time, maxSkew time.Duration) error {
	if !hmac.Equal([]byte(req.Header.Get(HeaderPeerToken)), []byte(token)) {
		return fmt.Errorf("%w: bad token", ErrBadSignature)
	}
	tsRaw := req.Header.Get(HeaderPeerTimestamp)
	if tsRaw == "" {
		return fmt.Errorf("%w: missing %s", ErrBadSignature, HeaderPeerTimestamp)
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid %s", ErrBadSignature, HeaderPeerTimestamp)
	}
	skew := now.UTC().Sub(time.Unix(ts, 0).UTC())
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return fmt.Errorf("%w: timestamp outside allowed skew", ErrBadSignature)
	}

	got := req.Header.Get(HeaderPeerSignature)
	if got == "" {
		return fmt.Errorf("%w: missing %s", ErrBadSignature, HeaderPeerSignature)
	}
	want := signature(req.Method, req.URL.Path, tsRaw, body, token)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return fmt.Errorf("%w: signature mismatch", ErrBadSignature)
	}
	return nil
}

func signature(method, path, ts string, body []byte, token string) string {
	digest := sha256.Sum256(body)
	payload := method + "\n" + path + "\n" + ts + "\n" + hex.EncodeToString(digest[:])

	mac := hmac.New(sha256.New, []byte(token))
	_, _ = mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
