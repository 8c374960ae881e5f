package deal

import (
	"strings"
	"testing"
)

func TestIDGenerator(t *testing.T) {
	gen, err := NewIDGenerator(DefaultIDLength)
	if err != nil {
		t.Fatalf("generator: %v", err)
	}
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := gen()
		if len(id) != DefaultIDLength {
			t.Fatalf("id %q has length %d", id, len(id))
		}
		if strings.Trim(id, idAlphabet) != "" {
			t.Fatalf("id %q outside alphabet", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
	for _, n := range []int{0, MinIDLength - 1, MaxIDLength + 1} {
		if _, err := NewIDGenerator(n); err == nil {
			t.Fatalf("length %d accepted", n)
		}
	}
}

func TestParseJoinRef(t *testing.T) {
	valid := map[string]string{
		"deal_k3j9x0a1b2c3": "k3j9x0a1b2c3",
		" deal_abcdefgh ":   "abcdefgh",
	}
	for in, want := range valid {
		got, ok := ParseJoinRef(in)
		if !ok || got != want {
			t.Fatalf("ParseJoinRef(%q) = %q, %v", in, got, ok)
		}
	}
	for _, in := range []string{"", "deal_", "hello", "deal_short", "deal_ABCDEFGHIJ", "deal_abc-defghij", "xdeal_abcdefghij", "deal_" + strings.Repeat("a", MaxIDLength+1)} {
		if id, ok := ParseJoinRef(in); ok {
			t.Fatalf("ParseJoinRef(%q) accepted as %q", in, id)
		}
	}
}

func TestDeepLinkRoundTrip(t *testing.T) {
	link := DeepLink("@escrow_bot", "k3j9x0a1b2c3")
	if link != "https://t.me/escrow_bot?start=deal_k3j9x0a1b2c3" {
		t.Fatalf("link = %s", link)
	}
	token := link[strings.Index(link, "=")+1:]
	if id, ok := ParseJoinRef(token); !ok || id != "k3j9x0a1b2c3" {
		t.Fatalf("token %q did not parse back", token)
	}
}
