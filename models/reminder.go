package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Reminder is one tracked task, anchored to the root post announcing it.
// PostID is the primary key, the foreign key into the chat platform, and
// the stop token shown to users — it never changes after creation.
type Reminder struct {
	PostID    string    `json:"post_id"`
	ChannelID string    `json:"channel_id"`
	DueDate   string    `json:"due_date"` // YYYY-MM-DD
	Content   string    `json:"content"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReminderContent is the decoded content column. The column holds either
// legacy plain text or a JSON payload carrying explicit target usernames.
type ReminderContent struct {
	Body            string   `json:"body"`
	TargetUsernames []string `json:"target_usernames,omitempty"`
}

// Encode serializes the content for storage. Plain bodies without explicit
// targets are stored verbatim so old rows and new rows stay interchangeable.
func (c ReminderContent) Encode() string {
	if len(c.TargetUsernames) == 0 {
		return c.Body
	}
	data, err := json.Marshal(c)
	if err != nil {
		return c.Body
	}
	return string(data)
}

// ParseContent decodes a content column value. It attempts the structured
// JSON form first and falls back to treating the value as plain text.
func ParseContent(raw string) ReminderContent {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var c ReminderContent
		if err := json.Unmarshal([]byte(trimmed), &c); err == nil && (c.Body != "" || len(c.TargetUsernames) > 0) {
			return c
		}
	}
	return ReminderContent{Body: raw}
}
