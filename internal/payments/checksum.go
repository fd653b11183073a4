package payments

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

const checksumSeparator = "###"

// Checksum computes the gateway verification header for message:
// hex(SHA256(message + saltKey)) + "###" + saltIndex.
func Checksum(message, saltKey, saltIndex string) string {
	sum := sha256.Sum256([]byte(message + saltKey))
	return hex.EncodeToString(sum[:]) + checksumSeparator + saltIndex
}

// PayChecksum signs a base64 pay payload together with the pay endpoint path.
func PayChecksum(base64Payload, saltKey, saltIndex string) string {
	return Checksum(base64Payload+phonePePayPath, saltKey, saltIndex)
}

// StatusChecksum signs a status endpoint path.
func StatusChecksum(path, saltKey, saltIndex string) string {
	return Checksum(path, saltKey, saltIndex)
}

// VerifyChecksum reports whether header matches the checksum of message in constant time.
func VerifyChecksum(header, message, saltKey, saltIndex string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	expected := Checksum(message, saltKey, saltIndex)
	return subtle.ConstantTimeCompare([]byte(header), []byte(expected)) == 1
}
