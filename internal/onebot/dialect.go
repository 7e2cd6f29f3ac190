// Package onebot encodes normalized notifications into the wire formats of
// the supported chat-bridge dialects.
//
// Two remote conventions exist and are deliberately not unified: NapCat-style
// endpoints ("simple_text") are judged by HTTP status alone, while OneBot v11
// endpoints additionally report success through a retcode field in an HTTP
// 200 body. See CheckRetcode.
package onebot

import (
	"fmt"
	"strings"
)

// Dialect selects the payload shape and success convention of the remote
// bridge. It is a fixed configuration choice, never auto-detected.
type Dialect string

const (
	// DialectSimpleText posts a message-segment array keyed by a string
	// user id. No auth header, no retcode inspection.
	DialectSimpleText Dialect = "simple_text"

	// DialectOneBotV11 posts a plain-string message keyed by a numeric
	// user id, with optional bearer auth, sent inline on the caller's
	// goroutine.
	DialectOneBotV11 Dialect = "onebot_v11"

	// DialectQueuedOneBot uses the OneBot v11 payload shape but delivers
	// through the rate-limited dispatch queue.
	DialectQueuedOneBot Dialect = "queued_onebot"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case DialectSimpleText:
		return DialectSimpleText, nil
	case DialectOneBotV11:
		return DialectOneBotV11, nil
	case DialectQueuedOneBot:
		return DialectQueuedOneBot, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", s)
	}
}

// Queued reports whether sends go through the dispatch queue.
func (d Dialect) Queued() bool { return d == DialectQueuedOneBot }

// ChecksRetcode reports whether an HTTP 200 body must carry retcode == 0 to
// count as delivered.
func (d Dialect) ChecksRetcode() bool {
	return d == DialectOneBotV11 || d == DialectQueuedOneBot
}

// RequiresNumericID reports whether the recipient id must parse as an integer.
func (d Dialect) RequiresNumericID() bool {
	return d == DialectOneBotV11 || d == DialectQueuedOneBot
}

// RequiresToken reports whether an access token is part of a complete
// configuration. Only the queued dialect refuses to start without one; the
// synchronous OneBot dialect treats the token as optional.
func (d Dialect) RequiresToken() bool { return d == DialectQueuedOneBot }
