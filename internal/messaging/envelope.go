package messaging

import (
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream value keys for the message envelope.
const (
	fieldID            = "id"
	fieldCorrelationID = "correlation_id"
	fieldType          = "type"
	fieldReplyTo       = "reply_to"
	fieldBody          = "body"
	fieldPublishedAt   = "published_at"
)

// Envelope is one message on a command, reply, or outcome stream. The
// body is a JSON payload whose shape depends on Type; CorrelationID,
// Type, and ReplyTo travel out of band as stream values.
type Envelope struct {
	ID            string
	CorrelationID string
	Type          string
	ReplyTo       string
	Body          json.RawMessage
	PublishedAt   time.Time
}

func (e Envelope) values() map[string]any {
	values := map[string]any{
		fieldID:            e.ID,
		fieldCorrelationID: e.CorrelationID,
		fieldType:          e.Type,
		fieldBody:          string(e.Body),
		fieldPublishedAt:   e.PublishedAt.UTC().Format(time.RFC3339Nano),
	}
	if e.ReplyTo != "" {
		values[fieldReplyTo] = e.ReplyTo
	}
	return values
}

// envelopeFromMessage rebuilds an Envelope from stream values. Missing
// fields come back empty; validating them is the router's job so that
// protocol violations follow the retry/dead-letter path.
func envelopeFromMessage(msg redis.XMessage) Envelope {
	env := Envelope{
		ID:            stringValue(msg.Values, fieldID),
		CorrelationID: stringValue(msg.Values, fieldCorrelationID),
		Type:          stringValue(msg.Values, fieldType),
		ReplyTo:       stringValue(msg.Values, fieldReplyTo),
	}
	if body := stringValue(msg.Values, fieldBody); body != "" {
		env.Body = json.RawMessage(body)
	}
	if raw := stringValue(msg.Values, fieldPublishedAt); raw != "" {
		if at, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			env.PublishedAt = at
		}
	}
	if env.ID == "" {
		env.ID = msg.ID
	}
	return env
}

func stringValue(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	s, _ := raw.(string)
	return s
}
