// Package relay implements the connection-routing core: mapping verified
// identities to live WebSocket sessions and fanning typed chat events out to
// the right connections.
package relay

import (
	"encoding/json"
	"fmt"
)

// Event type tags as they appear on the wire.
const (
	TypePrivateMessage       = "private_message"
	TypeDeletePrivateMessage = "delete_private_message"
	TypeMessageDelivered     = "message_delivered"
	TypeMessageRead          = "message_read"
	TypeImageMessage         = "image_message"
)

// Identity is the addressable endpoint for messaging: a verified phone
// number split into its country code and national number.
type Identity struct {
	CountryCode string
	PhoneNumber string
}

// Key returns the normalized directory key for the identity.
func (i Identity) Key() string {
	return i.CountryCode + i.PhoneNumber
}

// Route carries the sender and receiver identity fields shared by every
// event variant. Field names match the wire format.
type Route struct {
	SenderCountryCode   string `json:"sender_country_code"`
	SenderPhoneNumber   string `json:"sender_phone_number"`
	ReceiverCountryCode string `json:"receiver_country_code"`
	ReceiverPhoneNumber string `json:"receiver_phone_number"`
}

// Sender returns the sending identity.
func (r Route) Sender() Identity {
	return Identity{CountryCode: r.SenderCountryCode, PhoneNumber: r.SenderPhoneNumber}
}

// Receiver returns the receiving identity.
func (r Route) Receiver() Identity {
	return Identity{CountryCode: r.ReceiverCountryCode, PhoneNumber: r.ReceiverPhoneNumber}
}

// Envelope is a typed event exchanged between identities. Exactly one
// concrete variant exists per wire event type.
type Envelope interface {
	EventType() string
	Sender() Identity
	Receiver() Identity
}

// PrivateMessage is a text message addressed to a single identity.
// Hash is a client-supplied correlation key and Timestamp is carried
// through unchanged; neither is interpreted by the relay.
type PrivateMessage struct {
	Route
	Message   string `json:"message"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

// EventType implements Envelope.
func (*PrivateMessage) EventType() string { return TypePrivateMessage }

// DeletePrivateMessage asks both parties to drop the message identified
// by Hash.
type DeletePrivateMessage struct {
	Route
	Hash string `json:"hash"`
}

// EventType implements Envelope.
func (*DeletePrivateMessage) EventType() string { return TypeDeletePrivateMessage }

// MessageDelivered is the delivery receipt for the message identified by
// Hash. It flows only toward the receiver side of the route.
type MessageDelivered struct {
	Route
	Hash string `json:"hash"`
}

// EventType implements Envelope.
func (*MessageDelivered) EventType() string { return TypeMessageDelivered }

// MessageRead is the read receipt for the message identified by Hash.
// Like MessageDelivered it flows only toward the receiver side.
type MessageRead struct {
	Route
	Hash string `json:"hash"`
}

// EventType implements Envelope.
func (*MessageRead) EventType() string { return TypeMessageRead }

// ImageMessage is an inline image addressed to a single identity.
type ImageMessage struct {
	Route
	Image     string `json:"image"`
	Timestamp string `json:"timestamp"`
	Hash      string `json:"hash"`
}

// EventType implements Envelope.
func (*ImageMessage) EventType() string { return TypeImageMessage }

// DecodeError reports a malformed inbound frame: invalid JSON, a missing or
// unknown type tag, or a missing required field. The frame is dropped; a
// DecodeError is never a process-level fault.
type DecodeError struct {
	EventType string
	Reason    string
}

func (e *DecodeError) Error() string {
	if e.EventType == "" {
		return "decode: " + e.Reason
	}
	return fmt.Sprintf("decode %s: %s", e.EventType, e.Reason)
}

// routeFields are required by every event variant.
var routeFields = []string{
	"sender_country_code",
	"sender_phone_number",
	"receiver_country_code",
	"receiver_phone_number",
}

// Decode parses a raw frame into its typed envelope. Required-field checks
// are presence checks on the JSON keys; no semantic validation of the
// sender or receiver identities happens here.
func Decode(raw []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &DecodeError{Reason: "malformed frame: " + err.Error()}
	}

	rawType, ok := fields["type"]
	if !ok {
		return nil, &DecodeError{Reason: "missing field type"}
	}
	var eventType string
	if err := json.Unmarshal(rawType, &eventType); err != nil {
		return nil, &DecodeError{Reason: "field type must be a string"}
	}

	var env Envelope
	var required []string
	switch eventType {
	case TypePrivateMessage:
		env, required = &PrivateMessage{}, []string{"message", "hash", "timestamp"}
	case TypeDeletePrivateMessage:
		env, required = &DeletePrivateMessage{}, []string{"hash"}
	case TypeMessageDelivered:
		env, required = &MessageDelivered{}, []string{"hash"}
	case TypeMessageRead:
		env, required = &MessageRead{}, []string{"hash"}
	case TypeImageMessage:
		env, required = &ImageMessage{}, []string{"image", "timestamp", "hash"}
	default:
		return nil, &DecodeError{EventType: eventType, Reason: "unknown event type"}
	}

	for _, name := range routeFields {
		if _, ok := fields[name]; !ok {
			return nil, &DecodeError{EventType: eventType, Reason: "missing field " + name}
		}
	}
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			return nil, &DecodeError{EventType: eventType, Reason: "missing field " + name}
		}
	}

	if err := json.Unmarshal(raw, env); err != nil {
		return nil, &DecodeError{EventType: eventType, Reason: err.Error()}
	}
	return env, nil
}

// Encode serializes an envelope back to its wire form, including the type
// tag. It is the structural inverse of Decode for every variant.
func Encode(env Envelope) ([]byte, error) {
	switch e := env.(type) {
	case *PrivateMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			*PrivateMessage
		}{TypePrivateMessage, e})
	case *DeletePrivateMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			*DeletePrivateMessage
		}{TypeDeletePrivateMessage, e})
	case *MessageDelivered:
		return json.Marshal(struct {
			Type string `json:"type"`
			*MessageDelivered
		}{TypeMessageDelivered, e})
	case *MessageRead:
		return json.Marshal(struct {
			Type string `json:"type"`
			*MessageRead
		}{TypeMessageRead, e})
	case *ImageMessage:
		return json.Marshal(struct {
			Type string `json:"type"`
			*ImageMessage
		}{TypeImageMessage, e})
	default:
		return nil, fmt.Errorf("encode: unsupported envelope %T", env)
	}
}
