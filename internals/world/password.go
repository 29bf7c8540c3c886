package world

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Room passwords gate joining a circle, not user accounts, so a plain
// digest is enough here. Account passwords are handled elsewhere.
func HashRoomPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func VerifyRoomPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	computed := HashRoomPassword(password)
	return subtle.ConstantTimeCompare([]byte(hash), []byte(computed)) == 1
}
