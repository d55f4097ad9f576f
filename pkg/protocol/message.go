// Package protocol defines the JSON messages exchanged with the tutor
// backend over the session WebSocket.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Server → client messages
	TypeTranscript MessageType = "transcript" // What the user said
	TypeResponse   MessageType = "response"   // Tutor reply text
	TypeError      MessageType = "error"      // Application error

	// Bidirectional
	TypeAudio MessageType = "audio" // Base64 audio, speech segment or spoken reply

	// Client → server messages
	TypeText MessageType = "text" // Typed user turn
)

// DefaultReplyMimeType is assumed when a server audio message omits mimeType.
const DefaultReplyMimeType = "audio/mp3"

var (
	// ErrMalformed is returned for frames that are not a JSON object
	// with a string type field.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrUnknownType is returned for well-formed frames of a type this
	// client does not handle.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Message is implemented by every protocol message.
type Message interface {
	Type() MessageType
}

// Inbound is a message the server sends to the client.
type Inbound interface {
	Message
	inbound()
}

// Outbound is a message the client sends to the server.
type Outbound interface {
	Message
	envelope() envelope
}

// envelope is the flat wire shape shared by all messages.
type envelope struct {
	Type     MessageType     `json:"type"`
	Text     *string         `json:"text,omitempty"`
	Audio    string          `json:"audio,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Quality  json.RawMessage `json:"quality,omitempty"`
	Turn     int             `json:"turn,omitempty"`
}

// Transcript carries the server's transcription of the last segment.
type Transcript struct {
	Text string
}

// Response carries the tutor's reply text and an opaque quality assessment.
type Response struct {
	Text    string
	Quality json.RawMessage
	Turn    int
}

// Audio carries base64-encoded audio in either direction.
type Audio struct {
	Data     string
	MimeType string
}

// Error carries an application-level failure reported by the server.
type Error struct {
	Text string
}

// Text carries a typed user turn instead of speech.
type Text struct {
	Text string
}

func (Transcript) Type() MessageType { return TypeTranscript }
func (Response) Type() MessageType   { return TypeResponse }
func (Audio) Type() MessageType      { return TypeAudio }
func (Error) Type() MessageType      { return TypeError }
func (Text) Type() MessageType       { return TypeText }

func (Transcript) inbound() {}
func (Response) inbound()   {}
func (Audio) inbound()      {}
func (Error) inbound()      {}

func (e Error) Error() string { return e.Text }

func (a Audio) envelope() envelope {
	return envelope{Type: TypeAudio, Audio: a.Data, MimeType: a.MimeType}
}

func (t Text) envelope() envelope {
	text := t.Text
	return envelope{Type: TypeText, Text: &text}
}

// NewAudio base64-encodes payload into an Audio message.
func NewAudio(payload []byte, mimeType string) Audio {
	return Audio{
		Data:     base64.StdEncoding.EncodeToString(payload),
		MimeType: mimeType,
	}
}

// Decode returns the raw audio bytes.
func (a Audio) Decode() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	return b, nil
}

// Encode returns the JSON frame for an outbound message.
func Encode(msg Outbound) ([]byte, error) {
	return json.Marshal(msg.envelope())
}

// Parse decodes one inbound text frame.
// It returns ErrMalformed or ErrUnknownType for frames the client must drop.
func Parse(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	text := ""
	if env.Text != nil {
		text = *env.Text
	}

	switch env.Type {
	case TypeTranscript:
		return Transcript{Text: text}, nil
	case TypeResponse:
		return Response{Text: text, Quality: env.Quality, Turn: env.Turn}, nil
	case TypeAudio:
		if env.Audio == "" {
			return nil, fmt.Errorf("%w: audio without payload", ErrMalformed)
		}
		mime := env.MimeType
		if mime == "" {
			mime = DefaultReplyMimeType
		}
		return Audio{Data: env.Audio, MimeType: mime}, nil
	case TypeError:
		return Error{Text: text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// ParseOutbound decodes a client frame. It is used by the loopback server.
func ParseOutbound(data []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeAudio:
		return Audio{Data: env.Audio, MimeType: env.MimeType}, nil
	case TypeText:
		if env.Text == nil {
			return nil, fmt.Errorf("%w: text without body", ErrMalformed)
		}
		return Text{Text: *env.Text}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// EncodeInbound returns the JSON frame for a server message.
// It is used by the loopback server.
func EncodeInbound(msg Inbound) ([]byte, error) {
	var env envelope
	switch m := msg.(type) {
	case Transcript:
		env = envelope{Type: TypeTranscript, Text: &m.Text}
	case Response:
		env = envelope{Type: TypeResponse, Text: &m.Text, Quality: m.Quality, Turn: m.Turn}
	case Audio:
		env = m.envelope()
	case Error:
		env = envelope{Type: TypeError, Text: &m.Text}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
	return json.Marshal(env)
}
