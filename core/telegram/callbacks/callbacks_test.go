package callbacks

import (
	"errors"
	"strconv"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestParseCallbackData(t *testing.T) {
	cases := []struct {
		name         string
		cb           *tele.Callback
		key, payload string
	}{
		{"nil", nil, "", ""},
		{"raw", &tele.Callback{Data: "\fdeal|pay|abc123"}, "deal", "pay|abc123"},
		{"no payload", &tele.Callback{Data: "\fmenu"}, "menu", ""},
		{"split by telebot", &tele.Callback{Unique: "deal", Data: "sent|abc123"}, "deal", "sent|abc123"},
	}
	for _, tc := range cases {
		key, payload := ParseCallbackData(tc.cb)
		if key != tc.key || payload != tc.payload {
			t.Fatalf("%s: got %q/%q, want %q/%q", tc.name, key, payload, tc.key, tc.payload)
		}
	}
}

func TestSplitPayload(t *testing.T) {
	if _, err := SplitPayload("", "|"); !errors.Is(err, strconv.ErrSyntax) {
		t.Fatalf("empty payload err = %v", err)
	}
	parts, err := SplitPayload(JoinPayload("|", "received", "abc123"), "|")
	if err != nil || len(parts) != 2 || parts[0] != "received" || parts[1] != "abc123" {
		t.Fatalf("parts = %v, err %v", parts, err)
	}
}
