package api

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"oraculo/internal/domain"
)

// Signed request headers.
const (
	HeaderSigner    = "X-Oraculo-Signer"
	HeaderTimestamp = "X-Oraculo-Timestamp"
	HeaderSignature = "X-Oraculo-Signature"
	HeaderNonce     = "X-Oraculo-Nonce"
	HeaderRequestID = "X-Request-ID"
)

// DefaultMaxClockSkew bounds how far a signed timestamp may be from the
// server clock.
const DefaultMaxClockSkew = 5 * time.Minute

// Authentication errors.
var (
	ErrMissingSignature = errors.New("missing signature headers")
	ErrBadSigner        = errors.New("malformed signer")
	ErrBadTimestamp     = errors.New("malformed timestamp")
	ErrStaleTimestamp   = errors.New("timestamp outside allowed skew")
	ErrBadSignature     = errors.New("signature verification failed")
	ErrBadNonce         = errors.New("nonce must be a UUID")
	ErrReplayedRequest  = errors.New("request nonce already used")
)

// SigningMessage is the byte string a request signature covers:
// METHOD\nPATH\nTIMESTAMP\nNONCE\nhex(sha256(body)).
func SigningMessage(method, path string, ts int64, nonce string, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(method + "\n" + path + "\n" + strconv.FormatInt(ts, 10) + "\n" + nonce + "\n" + hex.EncodeToString(sum[:]))
}

// SignRequest signs a request and returns the base58 signature.
func SignRequest(key ed25519.PrivateKey, method, path string, ts int64, nonce string, body []byte) string {
	return base58.Encode(ed25519.Sign(key, SigningMessage(method, path, ts, nonce, body)))
}

// AddressOf returns the account address of an ed25519 public key.
func AddressOf(pub ed25519.PublicKey) domain.Address {
	var a domain.Address
	copy(a[:], pub)
	return a
}

// signedHeaders are the authentication header values of one request.
type signedHeaders struct {
	signer, timestamp, nonce, signature string
}

func headersOf(h http.Header) signedHeaders {
	return signedHeaders{
		signer:    h.Get(HeaderSigner),
		timestamp: h.Get(HeaderTimestamp),
		nonce:     h.Get(HeaderNonce),
		signature: h.Get(HeaderSignature),
	}
}

// verifyRequest checks the signature header values against the request
// and returns the signer. It does not check the nonce for reuse.
func verifyRequest(sh signedHeaders, method, path string, body []byte, now time.Time, skew time.Duration) (domain.Address, error) {
	signer, timestamp, signature := sh.signer, sh.timestamp, sh.signature
	if signer == "" || timestamp == "" || sh.nonce == "" || signature == "" {
		return domain.Address{}, ErrMissingSignature
	}
	if _, err := uuid.Parse(sh.nonce); err != nil {
		return domain.Address{}, ErrBadNonce
	}
	addr, err := domain.ParseAddress(signer)
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %v", ErrBadSigner, err)
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.Address{}, ErrBadTimestamp
	}
	if d := now.Sub(time.Unix(ts, 0)); d > skew || d < -skew {
		return domain.Address{}, ErrStaleTimestamp
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return domain.Address{}, ErrBadSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(addr[:]), SigningMessage(method, path, ts, sh.nonce, body), sig) {
		return domain.Address{}, ErrBadSignature
	}
	return addr, nil
}
