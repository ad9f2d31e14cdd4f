package content

import (
	"encoding/json"
	"errors"
	"unicode/utf16"
)

// Roles accepted by the messages API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the messages array, held as the caller sent it so
// the provider receives it unchanged.
type Message json.RawMessage

// Text builds a message with plain string content.
func Text(role, text string) Message {
	raw, _ := json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: role, Content: text})
	return Message(raw)
}

// MarshalJSON returns m verbatim.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return m, nil
}

// UnmarshalJSON keeps a copy of data.
func (m *Message) UnmarshalJSON(data []byte) error {
	if m == nil {
		return errors.New("content.Message: UnmarshalJSON on nil pointer")
	}
	*m = append((*m)[0:0], data...)
	return nil
}

// StringContent returns the message's content when it is a JSON string.
// Content block arrays, missing content and non-object messages report false.
func (m Message) StringContent() (string, bool) {
	var fields struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(m, &fields); err != nil || len(fields.Content) == 0 {
		return "", false
	}

	var text string
	if err := json.Unmarshal(fields.Content, &text); err != nil {
		return "", false
	}
	return text, true
}

// Length returns the string content length in UTF-16 code units. Messages
// without string content count as zero.
func (m Message) Length() int {
	text, ok := m.StringContent()
	if !ok {
		return 0
	}
	return UTF16Len(text)
}

// UTF16Len counts s in UTF-16 code units, so characters outside the Basic
// Multilingual Plane count twice.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

// TotalLength sums the content length of every message.
func TotalLength(messages []Message) int {
	total := 0
	for _, msg := range messages {
		total += msg.Length()
	}
	return total
}
