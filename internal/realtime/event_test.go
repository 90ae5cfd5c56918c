package realtime

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeAuthenticate(t *testing.T) {
	t.Parallel()

	var d decoder
	ev, err := d.Decode([]byte(`{"event":"authenticate","data":{"userId":"alice"}}`))
	require.NoError(t, err)
	require.Equal(t, Authenticate{UserID: "alice"}, ev)
}

func TestDecodeAuthenticateBareString(t *testing.T) {
	t.Parallel()

	// older clients send the user id directly in data
	var d decoder
	ev, err := d.Decode([]byte(`{"event":"authenticate","data":"alice"}`))
	require.NoError(t, err)
	require.Equal(t, Authenticate{UserID: "alice"}, ev)
}

func TestDecodeJoinLeave(t *testing.T) {
	t.Parallel()

	var d decoder

	ev, err := d.Decode([]byte(`{"event":"chat:join","data":{"chatId":"chat-1"}}`))
	require.NoError(t, err)
	require.Equal(t, JoinChat{ChatID: "chat-1"}, ev)

	ev, err = d.Decode([]byte(`{"event":"chat:leave","data":"chat-1"}`))
	require.NoError(t, err)
	require.Equal(t, LeaveChat{ChatID: "chat-1"}, ev)
}

func TestDecodeTyping(t *testing.T) {
	t.Parallel()

	var d decoder

	ev, err := d.Decode([]byte(`{"event":"typing:start","data":{"chatId":"chat-1","userId":"alice"}}`))
	require.NoError(t, err)
	require.Equal(t, TypingStart{ChatID: "chat-1", UserID: "alice"}, ev)

	ev, err = d.Decode([]byte(`{"event":"typing:stop","data":{"chatId":"chat-1","userId":"alice"}}`))
	require.NoError(t, err)
	require.Equal(t, TypingStop{ChatID: "chat-1", UserID: "alice"}, ev)
}

func TestDecodeSendMessage(t *testing.T) {
	t.Parallel()

	var d decoder
	ev, err := d.Decode([]byte(`{"event":"message:send","data":{"chatId":"chat-1","content":"hello","receiverId":"bob"}}`))
	require.NoError(t, err)
	require.Equal(t, SendMessage{ChatID: "chat-1", Content: "hello", ReceiverID: "bob"}, ev)
}

func TestDecodeUnknownEvent(t *testing.T) {
	t.Parallel()

	var d decoder
	_, err := d.Decode([]byte(`{"event":"no:such:event","data":{}}`))
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	var d decoder

	_, err := d.Decode([]byte(`{"event":`))
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = d.Decode([]byte(`{"data":{"userId":"alice"}}`))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeMissingPayloadFields(t *testing.T) {
	t.Parallel()

	// missing fields decode to zero values, validation happens in the hub
	var d decoder
	ev, err := d.Decode([]byte(`{"event":"message:send","data":{}}`))
	require.NoError(t, err)
	require.Equal(t, SendMessage{}, ev)
}
