package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"loancheck-backend/internal/queue"
	"loancheck-backend/internal/verifications"
)

// StepProcessor consumes one chain step. Implemented by the verifications
// service; narrowed here so tests can substitute a fake.
type StepProcessor interface {
	ProcessStep(ctx context.Context, msg queue.StepMessage) error
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingVerificationID indicates a message missing the verification id.
type ErrMissingVerificationID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingVerificationID) Error() string { return "missing verification id" }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	VerificationID string
	RequestID      string
	Err            error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process verification step"
	}
	return "process verification step: " + e.Err.Error()
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.StepMessage, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.StepMessage{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.StepMessage{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.VerificationID) == "" {
		return msg, meta, ErrMissingVerificationID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.StepMessage) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.StepMessage, bool) {
	if ctx == nil {
		return queue.StepMessage{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.StepMessage)
	return msg, ok
}

// HandleMessage parses, validates, and processes a message payload.
func HandleMessage(ctx context.Context, processor StepProcessor, body string) error {
	if processor == nil {
		return errors.New("verification service not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}

	if strings.TrimSpace(msg.VerificationID) == "" {
		return ErrMissingVerificationID{Meta: ComputeMeta(body), RequestID: msg.RequestID}
	}

	ctxWithRequest := verifications.WithRequestID(ctx, msg.RequestID)
	if err := processor.ProcessStep(ctxWithRequest, msg); err != nil {
		return ErrProcess{VerificationID: msg.VerificationID, RequestID: msg.RequestID, Err: err}
	}
	return nil
}
