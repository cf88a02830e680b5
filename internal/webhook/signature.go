package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Sign returns base64(HMAC-SHA256(secret, body)), the value CopeCart sends
// in X-Copecart-Signature.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether sig is the CopeCart signature of body.
// The comparison is plain string equality, matching the vendor integration
// this replaces; an empty secret or signature never verifies.
func VerifySignature(body []byte, sig, secret string) bool {
	if secret == "" || sig == "" {
		return false
	}
	return Sign(body, secret) == sig
}

// TrustedUserAgent reports whether ua contains the configured marker.
func TrustedUserAgent(ua, marker string) bool {
	if marker == "" {
		return false
	}
	return strings.Contains(ua, marker)
}

// DigistoreShaSign computes the Digistore24 IPN sha_sign over form fields:
// keys sorted, sha_sign excluded, empty values skipped, each pair written as
// key=value followed by the passphrase. The result is upper-case hex SHA-512.
func DigistoreShaSign(form url.Values, passphrase string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if strings.EqualFold(k, "sha_sign") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := form.Get(k)
		if v == "" {
			continue
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteString(passphrase)
	}
	sum := sha512.Sum512([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
