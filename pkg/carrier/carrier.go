package carrier

import (
	"context"
)

// CallParams describes one outbound call
type CallParams struct {
	To             string
	TwiML          string
	AudioURL       string
	StatusCallback string
	CallbackEvents []string
}

// CallResult is the carrier's acknowledgement of a placed call
type CallResult struct {
	SID      string
	Status   string
	From     string
	To       string
	Duration int // seconds, when known
}

// MessageResult is the carrier's acknowledgement of a sent message
type MessageResult struct {
	SID    string
	Status string
}

// CallRecord is one entry of the carrier's call history
type CallRecord struct {
	SID      string
	Status   string
	From     string
	To       string
	Duration int
}

// Client is the telephony carrier boundary. The orchestration core only
// depends on this interface; retry and auth semantics live behind it.
type Client interface {
	PlaceCall(ctx context.Context, params CallParams) (*CallResult, error)
	SendSMS(ctx context.Context, to, body string) (*MessageResult, error)
	EndCall(ctx context.Context, callSID string) error
	CallHistory(ctx context.Context, limit int) ([]CallRecord, error)
	Health(ctx context.Context) error
}
