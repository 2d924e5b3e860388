// Package crypto provides the password hashing used to verify admin token requests.
package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/scrypt"
)

// dailyHashCache caches DailyHash results keyed by "input:utcDay".
// Entries for previous days stay in memory harmlessly (bounded by 31 per input).
var dailyHashCache sync.Map

// Scrypt parameters matching the client implementation.
// N=16384 (2^14), r=8, p=1 are recommended for interactive logins.
const (
	scryptN      = 16384
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
)

// HashWithScrypt hashes an input string using scrypt with the given salt.
// The salt is lowercased before use. Returns hex-encoded hash.
func HashWithScrypt(input, salt string) (string, error) {
	saltBytes := []byte(strings.ToLower(salt))
	dk, err := scrypt.Key([]byte(input), saltBytes, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("scrypt key derivation failed: %w", err)
	}
	return hex.EncodeToString(dk), nil
}

// DailyHash hashes input with the current UTC day of month as salt, so a
// captured hash stops being accepted the next day.
func DailyHash(input string) (string, error) {
	return dailyHashAt(input, time.Now())
}

func dailyHashAt(input string, now time.Time) (string, error) {
	utcDay := strconv.Itoa(now.UTC().Day())
	cacheKey := input + ":" + utcDay

	if cached, ok := dailyHashCache.Load(cacheKey); ok {
		return cached.(string), nil
	}

	hash, err := HashWithScrypt(input, utcDay)
	if err != nil {
		return "", err
	}

	dailyHashCache.Store(cacheKey, hash)
	return hash, nil
}

// VerifyDailyHash reports whether candidate is today's DailyHash of secret.
func VerifyDailyHash(secret, candidate string) bool {
	if candidate == "" {
		return false
	}
	expected, err := DailyHash(secret)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(candidate)) == 1
}
