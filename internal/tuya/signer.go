// Package tuya implements the vendor cloud API protocol for the GARNI 925T
// station: request signing, the token-lifecycle session, and the device
// property client.
package tuya

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
)

// SignedHeader is one key:value pair bound into the signature for requests
// that must sign specific headers. Order is significant and fixed by the
// caller.
type SignedHeader struct {
	Key   string
	Value string
}

// Signer computes the vendor request signature. It is a pure function of its
// inputs; credentials are validated by the config layer before a Signer is
// ever constructed.
type Signer struct {
	ClientID string
	Secret   string
}

// Sign computes the signature for a request without a signed-headers block.
// pathWithQuery must be the URL path plus query only, never scheme or host:
// the server canonicalizes the path, so a signature over the absolute URL is
// always rejected. body is the exact compact-JSON bytes that will be sent,
// or nil for bodyless requests. accessToken is empty for the token endpoint
// and required everywhere else.
func (s Signer) Sign(method, pathWithQuery string, body []byte, timestampMS int64, accessToken string) string {
	return s.SignWithHeaders(method, pathWithQuery, body, nil, timestampMS, accessToken)
}

// SignWithHeaders computes the signature with an explicit signed-headers
// block (newline-joined key:value list).
func (s Signer) SignWithHeaders(method, pathWithQuery string, body []byte, headers []SignedHeader, timestampMS int64, accessToken string) string {
	sum := sha256.Sum256(body)
	contentHash := hex.EncodeToString(sum[:])

	var block strings.Builder
	for i, h := range headers {
		if i > 0 {
			block.WriteByte('\n')
		}
		block.WriteString(h.Key)
		block.WriteByte(':')
		block.WriteString(h.Value)
	}

	stringToSign := method + "\n" + contentHash + "\n" + block.String() + "\n" + pathWithQuery

	// The token, when present, sits between the client id and the timestamp.
	input := s.ClientID + accessToken + strconv.FormatInt(timestampMS, 10) + stringToSign

	mac := hmac.New(sha256.New, []byte(s.Secret))
	mac.Write([]byte(input))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// PathAndQuery reduces a URL to the portion that participates in signing.
// Already-relative paths pass through unchanged.
func PathAndQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	p := u.Path
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}
