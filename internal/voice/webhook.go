package voice

import (
	"encoding/json"
	"fmt"
)

// SignatureHeader is the header carrying the webhook HMAC signature.
const SignatureHeader = "X-Retell-Signature"

// EventCallAnalyzed is the only event type that triggers post-processing.
// Every other event is acknowledged and ignored.
const EventCallAnalyzed = "call_analyzed"

// WebhookEvent is the provider's asynchronous call notification.
type WebhookEvent struct {
	Event string      `json:"event"`
	Call  CallPayload `json:"call"`
}

// CallPayload carries the call fields we consume from webhook events.
type CallPayload struct {
	CallID     string           `json:"call_id"`
	Transcript []TranscriptTurn `json:"transcript"`
}

// TranscriptTurn is a single utterance in the call transcript.
type TranscriptTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParseWebhookEvent decodes a raw webhook body.
// Malformed JSON wraps ErrBadPayload; unknown event types are not an error
// here (the pipeline decides what to ignore).
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: %s", ErrBadPayload, err)
	}
	return ev, nil
}
