// Package signature builds and verifies the HMAC signature carried on
// outbound webhook deliveries.
//
// Two schemes exist. v0 signs the timestamp and payload; v1 additionally
// covers a caller-chosen list of request headers. A single header value can
// carry one or both versions:
//
//	t=<unix>,v0=<hex>
//	t=<unix>,h=<space-joined header names>,v1=<hex>
//	t=<unix>,v0=<hex>,h=<space-joined header names>,v1=<hex>
//
// Both MACs are HMAC-SHA256, hex-encoded. Verification compares in constant
// time and succeeds if any enabled version matches. Freshness is a separate
// check against the codec's configured tolerance, so that clock-skew policy
// stays independent of MAC verification.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"webhook-delivery/internal/common/errors"
)

// Signature scheme versions.
const (
	VersionV0 = "v0"
	VersionV1 = "v1"
)

// DefaultTolerance is the freshness window applied when a Codec is built
// without an explicit tolerance.
const DefaultTolerance = 5 * time.Minute

// Signature is the parsed form of a signature header value.
type Signature struct {
	Timestamp int64    // unix seconds the payload was signed at
	V0        string   // hex MAC over "t.payload", empty if absent
	Headers   []string // header names covered by v1, in signing order
	V1        string   // hex MAC over "t.payload(.name:value)*", empty if absent
}

// Codec signs payloads and verifies signature header values for a fixed set
// of enabled versions. A Codec holds no mutable state and is safe for
// concurrent use.
type Codec struct {
	versions  map[string]bool
	tolerance time.Duration
}

// NewCodec creates a Codec with the given enabled versions (v0, v1) and
// freshness tolerance. A non-positive tolerance falls back to
// DefaultTolerance.
func NewCodec(enabledVersions []string, tolerance time.Duration) (*Codec, error) {
	if len(enabledVersions) == 0 {
		return nil, errors.ConfigError("at least one signature version must be enabled")
	}

	versions := make(map[string]bool, len(enabledVersions))
	for _, v := range enabledVersions {
		if v != VersionV0 && v != VersionV1 {
			return nil, errors.ConfigError("unknown signature version: " + v)
		}
		versions[v] = true
	}

	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	return &Codec{versions: versions, tolerance: tolerance}, nil
}

// Enabled reports whether the given version is enabled on this codec.
func (c *Codec) Enabled(version string) bool {
	return c.versions[version]
}

// Sign produces the signature header value for a payload signed at the given
// time. headerNames selects which request headers the v1 MAC covers, in
// order; their values are taken from headers as received. When no versions
// that apply are enabled the result is an error, never an empty signature.
func (c *Codec) Sign(timestamp int64, payload []byte, secret string, headerNames []string, headers http.Header) (string, error) {
	if secret == "" {
		return "", errors.ValidationError("signing secret cannot be empty")
	}

	parts := []string{"t=" + strconv.FormatInt(timestamp, 10)}

	if c.versions[VersionV0] {
		mac := computeV0(timestamp, payload, secret)
		parts = append(parts, "v0="+mac)
	}

	if c.versions[VersionV1] {
		mac := computeV1(timestamp, payload, headerNames, headers, secret)
		if len(headerNames) > 0 {
			parts = append(parts, "h="+strings.Join(headerNames, " "))
		}
		parts = append(parts, "v1="+mac)
	}

	if len(parts) == 1 {
		return "", errors.ConfigError("no signature versions enabled")
	}

	return strings.Join(parts, ","), nil
}

// Parse decodes a signature header value into its components.
//
// Wrong grammar, an unparsable timestamp, or a non-hex MAC yields a
// signature_parse error so callers can tell "this isn't a signature" from
// "this signature is wrong".
func Parse(headerValue string) (*Signature, error) {
	if headerValue == "" {
		return nil, errors.SignatureParseError("empty signature header")
	}

	sig := &Signature{Timestamp: -1}

	for _, part := range strings.Split(headerValue, ",") {
		key, value, found := strings.Cut(part, "=")
		if !found || value == "" {
			return nil, errors.SignatureParseError("malformed signature element: " + part)
		}

		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil || ts < 0 {
				return nil, errors.SignatureParseError("unparsable timestamp: " + value)
			}
			sig.Timestamp = ts
		case "v0":
			if !isHexMAC(value) {
				return nil, errors.SignatureParseError("v0 value is not a hex-encoded MAC")
			}
			sig.V0 = value
		case "v1":
			if !isHexMAC(value) {
				return nil, errors.SignatureParseError("v1 value is not a hex-encoded MAC")
			}
			sig.V1 = value
		case "h":
			sig.Headers = strings.Fields(value)
		default:
			return nil, errors.SignatureParseError("unknown signature element: " + key)
		}
	}

	if sig.Timestamp < 0 {
		return nil, errors.SignatureParseError("signature has no timestamp")
	}
	if sig.V0 == "" && sig.V1 == "" {
		return nil, errors.SignatureParseError("signature carries no MAC")
	}

	return sig, nil
}

// Verify checks a signature header value against the payload and request
// headers it claims to cover. It returns nil when any enabled version
// present in the header matches, a signature_mismatch error when every
// candidate fails, and a signature_parse error when the header value is not
// a signature at all.
//
// Verify does not check freshness; see CheckFreshness.
func (c *Codec) Verify(headerValue string, payload []byte, headers http.Header, secret string) error {
	sig, err := Parse(headerValue)
	if err != nil {
		return err
	}

	checked := false

	if sig.V0 != "" && c.versions[VersionV0] {
		checked = true
		expected := computeV0(sig.Timestamp, payload, secret)
		if macEqual(sig.V0, expected) {
			return nil
		}
	}

	if sig.V1 != "" && c.versions[VersionV1] {
		checked = true
		expected := computeV1(sig.Timestamp, payload, sig.Headers, headers, secret)
		if macEqual(sig.V1, expected) {
			return nil
		}
	}

	if !checked {
		return errors.SignatureMismatchError("signature carries no enabled version")
	}
	return errors.SignatureMismatchError("signature does not match payload")
}

// CheckFreshness rejects signatures whose timestamp is further than the
// codec's configured tolerance from now, in either direction. A valid MAC on
// a stale timestamp is a replay, not a delivery.
func (c *Codec) CheckFreshness(timestamp int64, now time.Time) error {
	return CheckFreshness(timestamp, now, c.tolerance)
}

// CheckFreshness rejects signatures whose timestamp is further than
// tolerance from now, in either direction. Callers with a skew policy of
// their own can use this instead of the codec's configured tolerance.
func CheckFreshness(timestamp int64, now time.Time, tolerance time.Duration) error {
	signedAt := time.Unix(timestamp, 0)

	skew := now.Sub(signedAt)
	if skew < 0 {
		skew = -skew
	}

	if skew > tolerance {
		return errors.SignatureExpiredError("signature timestamp outside tolerance: " + skew.String())
	}
	return nil
}

// computeV0 MACs "timestamp.payload".
func computeV0(timestamp int64, payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// computeV1 MACs "timestamp.payload" followed by ".name:value" for each
// covered header, names lower-cased, values as received.
func computeV1(timestamp int64, payload []byte, headerNames []string, headers http.Header, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	for _, name := range headerNames {
		mac.Write([]byte{'.'})
		mac.Write([]byte(strings.ToLower(name)))
		mac.Write([]byte{':'})
		mac.Write([]byte(headers.Get(name)))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

func macEqual(provided, expected string) bool {
	return hmac.Equal([]byte(provided), []byte(expected))
}

func isHexMAC(value string) bool {
	if len(value) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
