package helpers

import (
	"strings"

	tele "gopkg.in/telebot.v4"
)

// DisplayName picks the name shown to the other party: @username when set,
// otherwise first and last name, otherwise an empty string.
func DisplayName(u *tele.User) string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.Username); name != "" {
		return "@" + name
	}
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}
