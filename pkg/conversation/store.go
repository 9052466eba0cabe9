package conversation

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/errors"
)

// Speaker identifies who produced a turn
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerSystem Speaker = "system"
)

// Turn is one utterance within a call's transcript. Turns are immutable
// once appended.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// State holds the ordered transcript and metadata for one call
type State struct {
	CallID   string                 `json:"call_id"`
	Turns    []Turn                 `json:"turns"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Store owns per-call conversation state. Conversations live until
// explicitly deleted; the caller facade purges them on terminal call
// status.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*State
	logger        *logrus.Logger
	now           func() time.Time
}

// NewStore creates an empty conversation store
func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		conversations: make(map[string]*State),
		logger:        logger,
		now:           time.Now,
	}
}

// Create initializes conversation state for a call. Creating an existing
// call id resets its transcript.
func (s *Store) Create(callID string, metadata map[string]interface{}) {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[callID] = &State{
		CallID:   callID,
		Turns:    []Turn{},
		Metadata: metadata,
	}
}

// AppendTurn records an utterance at the end of the call's transcript
func (s *Store) AppendTurn(callID string, speaker Speaker, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, exists := s.conversations[callID]
	if !exists {
		return errors.Wrap(errors.ErrConversationNotFound, "cannot append turn").
			WithField("call_id", callID)
	}

	state.Turns = append(state.Turns, Turn{
		Speaker:   speaker,
		Message:   message,
		Timestamp: s.now(),
	})

	return nil
}

// Get returns a copy of the conversation state for a call
func (s *Store) Get(callID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.conversations[callID]
	if !exists {
		return nil, errors.Wrap(errors.ErrConversationNotFound, "conversation lookup failed").
			WithField("call_id", callID)
	}

	// Copy so callers cannot mutate the store's transcript.
	turns := make([]Turn, len(state.Turns))
	copy(turns, state.Turns)
	metadata := make(map[string]interface{}, len(state.Metadata))
	for k, v := range state.Metadata {
		metadata[k] = v
	}

	return &State{
		CallID:   state.CallID,
		Turns:    turns,
		Metadata: metadata,
	}, nil
}

// Delete removes a conversation. Deleting an unknown call id is a no-op.
func (s *Store) Delete(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, callID)
}

// Len returns the number of active conversations
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.conversations)
}
