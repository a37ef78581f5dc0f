package rawws

import (
	"encoding/json"
	"strings"
)

// inboundMessage is the only client frame shape this protocol acts on: a
// user-authored chat turn with a structured content array. Anything else is
// ignored.
type inboundMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url"`
}

// ParseUserMessage extracts the outbound text of a user chat turn from a raw
// frame. Text parts are concatenated in order and image parts are rendered as
// placeholder lines. The second return is false when the frame is not a user
// message with a content array.
func ParseUserMessage(frame []byte) (string, bool) {
	var msg inboundMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return "", false
	}
	if msg.Role != "user" || len(msg.Content) == 0 {
		return "", false
	}

	var parts []string
	for _, part := range msg.Content {
		switch part.Type {
		case "text":
			parts = append(parts, part.Text)
		case "image_url":
			if part.ImageURL.URL != "" {
				parts = append(parts, "[image: "+part.ImageURL.URL+"]")
			}
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}
