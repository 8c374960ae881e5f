package callbacks

import (
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// JoinPayload builds a payload from parts; sep must not occur inside them.
func JoinPayload(sep string, parts ...string) string {
	return strings.Join(parts, sep)
}

// PayloadParts splits the callback payload into parts using the given separator.
func PayloadParts(c tele.Context, sep string) ([]string, error) {
	return SplitPayload(CallbackPayload(c), sep)
}

// SplitPayload splits a raw payload; an empty payload is a syntax error.
func SplitPayload(p, sep string) ([]string, error) {
	if p == "" {
		return nil, strconv.ErrSyntax
	}
	return strings.Split(p, sep), nil
}

// PayloadPair parses a payload like "pay|abc123" into its two parts.
func PayloadPair(c tele.Context, sep string) (string, string, error) {
	parts, err := PayloadParts(c, sep)
	if err != nil {
		return "", "", err
	}
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", strconv.ErrSyntax
	}
	return parts[0], parts[1], nil
}
