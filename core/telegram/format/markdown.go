package format

import (
	"fmt"
	"regexp"
)

const (
	// MarkdownV1 denotes Telegram markdown version 1.
	MarkdownV1 = 1
	// MarkdownV2 denotes Telegram markdown version 2.
	MarkdownV2 = 2
)

// Entity types that change which characters MarkdownV2 requires escaped.
const (
	EntityText = ""
	EntityCode = "code"
	EntityPre  = "pre"
	EntityLink = "text_link"
)

var (
	mdV1Re     = regexp.MustCompile("[_*`\\[]")
	mdV2Re     = regexp.MustCompile(`[_*\[\]()~` + "`" + `>#+\-=|{}.!\\]`)
	mdV2CodeRe = regexp.MustCompile("[`\\\\]")
	mdV2LinkRe = regexp.MustCompile(`[)\\]`)
)

// EscapeMarkdown escapes special characters for MarkdownV1 or V2. For V2 the
// entityType selects the narrower rules inside code, pre and link URLs; V1 has
// no escaping inside entities and ignores it.
func EscapeMarkdown(text string, version int, entityType string) (string, error) {
	switch version {
	case MarkdownV1:
		return mdV1Re.ReplaceAllString(text, `\$0`), nil
	case MarkdownV2:
		switch entityType {
		case EntityCode, EntityPre:
			return mdV2CodeRe.ReplaceAllString(text, `\$0`), nil
		case EntityLink:
			return mdV2LinkRe.ReplaceAllString(text, `\$0`), nil
		}
		return mdV2Re.ReplaceAllString(text, `\$0`), nil
	}
	return "", fmt.Errorf("unsupported markdown version: %d", version)
}

// MD escapes user supplied text for the legacy Markdown parse mode.
func MD(text string) string {
	s, _ := EscapeMarkdown(text, MarkdownV1, EntityText)
	return s
}
