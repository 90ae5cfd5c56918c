package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/valyala/fastjson"
)

// Client -> server event names
const (
	eventAuthenticate = "authenticate"
	eventChatJoin     = "chat:join"
	eventChatLeave    = "chat:leave"
	eventTypingStart  = "typing:start"
	eventTypingStop   = "typing:stop"
	eventMessageSend  = "message:send"
)

// Server -> client event names
const (
	EventUsersOnline  = "users:online"
	EventUserOnline   = "user:online"
	EventUserOffline  = "user:offline"
	EventMessageNew   = "message:new"
	EventMessageError = "message:error"
	EventTypingStart  = "typing:start"
	EventTypingStop   = "typing:stop"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
)

// Event is the tagged union of decoded client frames. A single Handle call
// switches on the concrete type, keeping event-name strings out of the core.
type Event interface {
	isEvent()
}

type Authenticate struct {
	UserID string
}

type JoinChat struct {
	ChatID string
}

type LeaveChat struct {
	ChatID string
}

type TypingStart struct {
	ChatID string
	UserID string
}

type TypingStop struct {
	ChatID string
	UserID string
}

type SendMessage struct {
	ChatID     string
	Content    string
	ReceiverID string
}

func (Authenticate) isEvent() {}
func (JoinChat) isEvent()     {}
func (LeaveChat) isEvent()    {}
func (TypingStart) isEvent()  {}
func (TypingStop) isEvent()   {}
func (SendMessage) isEvent()  {}

// decoder turns raw frames into Event values reusing pooled fastjson parsers
type decoder struct {
	pool fastjson.ParserPool
}

// Decode parses a wire frame of the form {"event": "...", "data": {...}}.
// Scalar payloads ("authenticate", "chat:join", "chat:leave") carry the value
// directly in data.
func (d *decoder) Decode(raw []byte) (Event, error) {
	parser := d.pool.Get()
	defer d.pool.Put(parser)

	v, err := parser.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	name := string(v.GetStringBytes("event"))
	if name == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedFrame)
	}

	data := v.Get("data")

	switch name {
	case eventAuthenticate:
		return Authenticate{UserID: stringField(data, "userId")}, nil
	case eventChatJoin:
		return JoinChat{ChatID: stringField(data, "chatId")}, nil
	case eventChatLeave:
		return LeaveChat{ChatID: stringField(data, "chatId")}, nil
	case eventTypingStart:
		return TypingStart{
			ChatID: string(data.GetStringBytes("chatId")),
			UserID: string(data.GetStringBytes("userId")),
		}, nil
	case eventTypingStop:
		return TypingStop{
			ChatID: string(data.GetStringBytes("chatId")),
			UserID: string(data.GetStringBytes("userId")),
		}, nil
	case eventMessageSend:
		return SendMessage{
			ChatID:     string(data.GetStringBytes("chatId")),
			Content:    string(data.GetStringBytes("content")),
			ReceiverID: string(data.GetStringBytes("receiverId")),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

// stringField reads a payload that is either a bare string or an object with
// the named key, tolerating both client generations on the wire
func stringField(data *fastjson.Value, key string) string {
	if data == nil {
		return ""
	}
	if data.Type() == fastjson.TypeString {
		return string(data.GetStringBytes())
	}
	return string(data.GetStringBytes(key))
}

// frame is the outgoing wire envelope
type frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

func marshalFrame(event string, data interface{}) ([]byte, error) {
	return json.Marshal(frame{Event: event, Data: data})
}

// typingPayload is relayed as-is, nothing is persisted
type typingPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// errorPayload is sent to the originating connection only
type errorPayload struct {
	Error  string `json:"error"`
	ChatID string `json:"chatId"`
}
