package telegram

import (
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

const webhookSecretInfo = "botcore webhook secret v1"

// DeriveWebhookSecret derives a stable webhook secret token from the bot
// token. The result uses only characters allowed by the Bot API
// (A-Z, a-z, 0-9, _ and -) and is 64 characters long.
func DeriveWebhookSecret(token string) string {
	r := hkdf.New(sha256.New, []byte(token), nil, []byte(webhookSecretInfo))
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		// hkdf only fails after 255*HashLen bytes.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
