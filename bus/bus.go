// Package bus carries login/logout/expiry notifications between managers
// that share one origin, the way a browser BroadcastChannel connects tabs.
//
// Delivery is best effort and unordered relative to store writes. A bus never
// hands a message back to the endpoint that published it. Unknown message
// types are passed through; receivers are expected to ignore them.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies a broadcast message.
type Type string

const (
	TypeLogin          Type = "login"
	TypeLogout         Type = "logout"
	TypeSessionExpired Type = "session_expired"
)

var (
	// ErrClosed is returned when publishing or subscribing on a closed bus.
	ErrClosed = errors.New("bus: closed")

	// ErrAlreadySubscribed is returned by a second Subscribe on the same endpoint.
	ErrAlreadySubscribed = errors.New("bus: handler already registered")
)

// LoginData is the payload of a login message.
type LoginData struct {
	SessionNonce string `json:"sessionNonce"`
}

// Message is one broadcast notification.
type Message struct {
	Type Type       `json:"type"`
	Data *LoginData `json:"data,omitempty"`
}

// Login returns a login message for the given session nonce.
func Login(nonce string) Message {
	return Message{Type: TypeLogin, Data: &LoginData{SessionNonce: nonce}}
}

// Logout returns a logout message.
func Logout() Message {
	return Message{Type: TypeLogout}
}

// Expired returns a session_expired message.
func Expired() Message {
	return Message{Type: TypeSessionExpired}
}

// Handler receives messages published by other endpoints.
type Handler func(Message)

// Bus is one endpoint on a broadcast channel.
type Bus interface {
	// Publish sends msg to every other endpoint on the channel.
	Publish(ctx context.Context, msg Message) error

	// Subscribe registers the handler for messages from other endpoints.
	// Only one handler may be registered per endpoint.
	Subscribe(h Handler) error

	// Close detaches the endpoint.
	Close() error
}

// envelope wraps a message on shared transports so that endpoints can drop their own echoes.
type envelope struct {
	Sender  string          `json:"sender"`
	Message json.RawMessage `json:"message"`
}

func encodeEnvelope(sender string, msg Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("bus: failed to marshal message: %w", err)
	}
	return json.Marshal(envelope{Sender: sender, Message: raw})
}

// decodeEnvelope returns the sender and message of a wire payload.
func decodeEnvelope(data []byte) (string, Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", Message{}, fmt.Errorf("bus: malformed envelope: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(env.Message, &msg); err != nil {
		return "", Message{}, fmt.Errorf("bus: malformed message: %w", err)
	}
	return env.Sender, msg, nil
}
