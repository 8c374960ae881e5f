package deal

import (
	"fmt"
	"strings"

	nanoid "github.com/jaevor/go-nanoid"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	// DefaultIDLength gives about 62 bits of randomness.
	DefaultIDLength = 12
	MinIDLength     = 8
	MaxIDLength     = 32

	// JoinPrefix marks a /start payload as a deal join reference.
	JoinPrefix = "deal_"
)

// NewIDGenerator returns a generator of lowercase alphanumeric deal ids.
func NewIDGenerator(length int) (func() string, error) {
	if length < MinIDLength || length > MaxIDLength {
		return nil, fmt.Errorf("deal id length %d out of range %d..%d", length, MinIDLength, MaxIDLength)
	}
	return nanoid.CustomASCII(idAlphabet, length)
}

// JoinToken is the opaque reference a seller shares with the buyer.
func JoinToken(id string) string {
	return JoinPrefix + id
}

// ParseJoinRef extracts the deal id from a join token. Any other shape reports false.
func ParseJoinRef(token string) (string, bool) {
	id, ok := strings.CutPrefix(strings.TrimSpace(token), JoinPrefix)
	if !ok || len(id) < MinIDLength || len(id) > MaxIDLength {
		return "", false
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(idAlphabet, rune(id[i])) {
			return "", false
		}
	}
	return id, true
}

// DeepLink builds the t.me start link that opens the bot with the join token.
func DeepLink(botUsername, id string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", strings.TrimPrefix(botUsername, "@"), JoinToken(id))
}
