package gateway

import (
	"errors"

	"qqbridge/internal/dispatch"
)

// ErrMalformedEvent means the host payload was not a key-value structure.
var ErrMalformedEvent = errors.New("event payload is not a key-value structure")

// normalize extracts title/body/category from a raw host event payload.
//
// The host publishes loosely-typed maps; the keys follow the upstream
// convention: "title", "text" and an optional "type" for the category.
// Anything that is not a string-keyed map is malformed. Missing or
// non-string values degrade to "" and are handled downstream.
func normalize(raw any) (dispatch.Item, error) {
	switch m := raw.(type) {
	case map[string]any:
		title, _ := m["title"].(string)
		body, _ := m["text"].(string)
		category, _ := m["type"].(string)
		return dispatch.Item{Title: title, Body: body, Category: category}, nil
	case map[string]string:
		return dispatch.Item{Title: m["title"], Body: m["text"], Category: m["type"]}, nil
	default:
		return dispatch.Item{}, ErrMalformedEvent
	}
}
