package onebot

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrInvalidRecipient means the configured user id is not numeric where the
// dialect requires it. Wrapped errors include the offending value.
var ErrInvalidRecipient = errors.New("recipient id is not numeric")

// TitleStyle selects how a non-empty title is joined with the body.
type TitleStyle string

const (
	// TitleStylePlain: "title\n\nbody".
	TitleStylePlain TitleStyle = "plain"
	// TitleStyleBracket: "【title】\nbody", the style the queued bridge uses.
	TitleStyleBracket TitleStyle = "bracket"
)

func ParseTitleStyle(s string) (TitleStyle, error) {
	switch TitleStyle(strings.ToLower(strings.TrimSpace(s))) {
	case TitleStylePlain, "":
		return TitleStylePlain, nil
	case TitleStyleBracket:
		return TitleStyleBracket, nil
	default:
		return "", fmt.Errorf("unknown title style %q", s)
	}
}

// FormatMessage merges title and body into the outgoing message text.
// When either side is empty the other is used verbatim.
func FormatMessage(title, body string, style TitleStyle) string {
	switch {
	case title == "":
		return body
	case body == "":
		return title
	}
	if style == TitleStyleBracket {
		return "【" + title + "】\n" + body
	}
	return title + "\n\n" + body
}

// Request is an encoded, ready-to-POST bridge call.
type Request struct {
	Body   []byte
	Header http.Header
}

type textSegment struct {
	Type string   `json:"type"`
	Data textData `json:"data"`
}

type textData struct {
	Text string `json:"text"`
}

type simpleTextPayload struct {
	UserID  string        `json:"user_id"`
	Message []textSegment `json:"message"`
}

type oneBotPayload struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

// Encode builds the dialect-specific request for an already-formatted
// message. It performs no I/O. The only error condition is a non-numeric
// recipient on a dialect that requires one.
func Encode(d Dialect, userID, accessToken, message string) (*Request, error) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")

	var payload any
	switch {
	case d == DialectSimpleText:
		payload = simpleTextPayload{
			UserID:  userID,
			Message: []textSegment{{Type: "text", Data: textData{Text: message}}},
		}
	default:
		uid, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, userID)
		}
		payload = oneBotPayload{UserID: uid, Message: message}
		if accessToken != "" {
			h.Set("Authorization", "Bearer "+accessToken)
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Request{Body: b, Header: h}, nil
}

// CheckRetcode inspects an HTTP 200 body per the OneBot v11 convention.
// It returns nil when retcode is present and zero; a missing or unparsable
// retcode counts as a rejection, since the bridge did not confirm delivery.
func CheckRetcode(body []byte) error {
	var resp struct {
		Retcode *int64 `json:"retcode"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("bridge response is not valid JSON: %w", err)
	}
	if resp.Retcode == nil {
		return errors.New("bridge response has no retcode")
	}
	if *resp.Retcode != 0 {
		return fmt.Errorf("bridge retcode %d", *resp.Retcode)
	}
	return nil
}
