package queue

import "encoding/json"

// StepMessage is the payload for one step of a verification chain. Each
// processed document enqueues the next step with the cursor advanced.
// CurrentIndex and AccumulatedFindings are hints only; the store is the
// source of truth and consumers resync from it on mismatch.
type StepMessage struct {
	VerificationID      string          `json:"verificationId"`
	ApplicationID       string          `json:"applicationId"`
	DocumentIDs         []string        `json:"documentIds"`
	CurrentIndex        int             `json:"currentIndex"`
	AccumulatedFindings json.RawMessage `json:"accumulatedFindings,omitempty"`
	RequestID           string          `json:"requestId"`
	EnqueuedAt          string          `json:"enqueuedAt"`
	Version             int             `json:"version"`
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg StepMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a StepMessage.
func DecodeMessage(payload []byte) (StepMessage, error) {
	var msg StepMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return StepMessage{}, err
	}
	return msg, nil
}
