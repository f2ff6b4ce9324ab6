// Package licensekey encodes and decodes self-describing signage license keys.
// A V2 key carries its own tier, device cap, company and expiry, signed with
// the installation secret, so it is verifiable offline.
package licensekey

import (
	"bytes"
	"compress/gzip"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// Prefix starts every key regardless of version.
	Prefix = "LK"

	// MaxKeyLength bounds keys on the wire.
	MaxKeyLength = 512

	// DateLayout is the payload date format for expiry and issued fields.
	DateLayout = "2006-01-02"

	sigHexLen    = 8
	v1ChecksumLen = 4
)

var (
	ErrMalformedKey      = errors.New("license key is malformed")
	ErrInvalidSignature  = errors.New("license key signature is invalid")
	ErrUnsupportedVersion = errors.New("license key version is unsupported")
)

// Payload is the signed content of a V2 key. Field names match the compact
// wire encoding: {"v":2,"t":"PRO-10","d":10,"c":"Acme","e":"2027-01-31","i":"2026-01-31"}.
type Payload struct {
	Version    int    `json:"v"`
	Tier       string `json:"t"`
	MaxDevices int    `json:"d"`
	Company    string `json:"c,omitempty"`
	ExpiresAt  string `json:"e,omitempty"` // YYYY-MM-DD
	IssuedAt   string `json:"i,omitempty"` // YYYY-MM-DD
}

// Encode serializes the payload to compact JSON, compresses it, base64url
// encodes it, and appends the truncated HMAC signature.
// Final form: LK-2-<b64url>-<SIG8>.
func Encode(payload Payload, installationSecret string) (string, error) {
	payload.Version = 2
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(raw); err != nil {
		return "", fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("compress payload: %w", err)
	}

	body := base64.RawURLEncoding.EncodeToString(compressed.Bytes())
	key := Prefix + "-2-" + body + "-" + signature(body, installationSecret)
	if len(key) > MaxKeyLength {
		return "", fmt.Errorf("encoded key exceeds %d bytes", MaxKeyLength)
	}
	return key, nil
}

// Decode validates and parses a key of any supported version.
//
// V2 keys verify the truncated HMAC over the body segment before the payload
// is touched; any mutation of the encoded bytes fails with ErrInvalidSignature.
// V1 keys (LK-1-<TIER>-<RANDOM>-<CKSUM4>) return a minimal payload carrying
// only the tier; the caller resolves the device cap from its stored row.
func Decode(key, installationSecret string) (Payload, error) {
	if len(key) == 0 || len(key) > MaxKeyLength {
		return Payload{}, ErrMalformedKey
	}
	if !strings.HasPrefix(key, Prefix+"-") {
		return Payload{}, ErrMalformedKey
	}

	rest := key[len(Prefix)+1:]
	dash := strings.IndexByte(rest, '-')
	if dash <= 0 {
		return Payload{}, ErrMalformedKey
	}
	version := rest[:dash]
	remainder := rest[dash+1:]

	switch version {
	case "2":
		return decodeV2(remainder, installationSecret)
	case "1":
		return decodeV1(remainder)
	default:
		return Payload{}, ErrUnsupportedVersion
	}
}

// decodeV2 splits <body>-<SIG8>. The body is base64url and may itself contain
// '-', so the signature is everything after the final dash.
func decodeV2(remainder, installationSecret string) (Payload, error) {
	lastDash := strings.LastIndexByte(remainder, '-')
	if lastDash <= 0 {
		return Payload{}, ErrMalformedKey
	}
	body := remainder[:lastDash]
	sig := remainder[lastDash+1:]
	if len(sig) != sigHexLen || !isUpperHex(sig) {
		return Payload{}, ErrMalformedKey
	}

	expected := signature(body, installationSecret)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return Payload{}, ErrInvalidSignature
	}

	compressed, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return Payload{}, ErrMalformedKey
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return Payload{}, ErrMalformedKey
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		return Payload{}, ErrMalformedKey
	}
	if err := gz.Close(); err != nil {
		return Payload{}, ErrMalformedKey
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Payload{}, ErrMalformedKey
	}
	if payload.Version != 2 {
		return Payload{}, ErrUnsupportedVersion
	}
	return payload, nil
}

// decodeV1 parses <TIER>-<RANDOM>-<CKSUM4>. The tier may contain dashes
// (PRO-10), so random and checksum are taken from the tail.
func decodeV1(remainder string) (Payload, error) {
	lastDash := strings.LastIndexByte(remainder, '-')
	if lastDash <= 0 {
		return Payload{}, ErrMalformedKey
	}
	checksum := remainder[lastDash+1:]
	if len(checksum) != v1ChecksumLen || !isUpperHex(checksum) {
		return Payload{}, ErrMalformedKey
	}

	head := remainder[:lastDash]
	randDash := strings.LastIndexByte(head, '-')
	if randDash <= 0 || randDash == len(head)-1 {
		return Payload{}, ErrMalformedKey
	}
	tier := head[:randDash]

	return Payload{Version: 1, Tier: tier}, nil
}

// MaxDevicesForTier derives a device cap from a tier string. "PRO-N" grants
// N devices; anything else falls back to the free-tier default.
func MaxDevicesForTier(tier string, freeDefault int) int {
	upper := strings.ToUpper(tier)
	if strings.HasPrefix(upper, "PRO-") {
		if n, err := strconv.Atoi(upper[len("PRO-"):]); err == nil && n >= 0 {
			return n
		}
	}
	return freeDefault
}

// KeyHash returns the full hex SHA-256 of a key, stored alongside the key for
// lookup without logging the key itself.
func KeyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// signature computes the first 8 uppercase hex chars of HMAC-SHA256 over the
// encoded body using the installation secret as key.
func signature(body, installationSecret string) string {
	mac := hmac.New(sha256.New, []byte(installationSecret))
	mac.Write([]byte(body))
	full := hex.EncodeToString(mac.Sum(nil))
	return strings.ToUpper(full[:sigHexLen])
}

func isUpperHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
