package pushclient

import (
	"encoding/base64"
	"strings"
)

// URLBase64ToBytes decodes an unpadded base64url string, such as a VAPID
// public key, into raw bytes. Invalid input yields the decoder's error.
func URLBase64ToBytes(s string) ([]byte, error) {
	padding := strings.Repeat("=", (4-len(s)%4)%4)
	std := strings.NewReplacer("-", "+", "_", "/").Replace(s + padding)
	return base64.StdEncoding.DecodeString(std)
}
