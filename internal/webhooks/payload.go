package webhooks

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"

	"fdp-index/internal/models"
)

const (
	SignatureHeader   = "X-Signature"
	SecretPlaceholder = "*** HIDDEN ***"
)

// Payload is the JSON body posted to subscribers
type Payload struct {
	Event     models.WebhookEventKind `json:"event"`
	ClientURL string                  `json:"clientUrl"`
	UUID      string                  `json:"uuid"`
	Timestamp string                  `json:"timestamp"`
	Secret    string                  `json:"secret"`
}

// Sign returns the signature header value for body: "sha1=" followed by the
// hex SHA-1 digest.
func Sign(body []byte) string {
	sum := sha1.Sum(body)
	return "sha1=" + hex.EncodeToString(sum[:])
}

// Seal serializes the payload with its secret to compute the signature, then
// returns the body with the secret replaced by a placeholder.
func (p Payload) Seal() (body []byte, signature string, err error) {
	withSecret, err := json.Marshal(p)
	if err != nil {
		return nil, "", err
	}
	signature = Sign(withSecret)

	p.Secret = SecretPlaceholder
	body, err = json.Marshal(p)
	if err != nil {
		return nil, "", err
	}
	return body, signature, nil
}
