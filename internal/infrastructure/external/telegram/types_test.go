package telegram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdate_Kind(t *testing.T) {
	tests := []struct {
		name   string
		update Update
		want   UpdateKind
	}{
		{"message", Update{Message: &Message{}}, UpdateKindMessage},
		{"edited", Update{EditedMessage: &Message{}}, UpdateKindEditedMessage},
		{"channel post", Update{ChannelPost: &Message{}}, UpdateKindChannelPost},
		{"callback", Update{CallbackQuery: &CallbackQuery{}}, UpdateKindCallbackQuery},
		{"inline", Update{InlineQuery: &InlineQuery{}}, UpdateKindInlineQuery},
		{"poll answer", Update{PollAnswer: &PollAnswer{}}, UpdateKindPollAnswer},
		{"unknown", Update{UpdateID: 1}, UpdateKindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.update.Kind())
		})
	}
}

func TestUpdate_EffectiveAccessors(t *testing.T) {
	user := &User{ID: 7}
	chat := &Chat{ID: 9, Type: ChatTypeGroup}
	cb := Update{CallbackQuery: &CallbackQuery{From: user, Message: &Message{Chat: chat}}}

	assert.Same(t, user, cb.EffectiveSender())
	assert.Same(t, chat, cb.EffectiveChat())

	var nilUpdate *Update
	assert.Nil(t, nilUpdate.EffectiveMessage())
	assert.Nil(t, nilUpdate.EffectiveSender())
}

func TestMessage_MediaKind(t *testing.T) {
	assert.Equal(t, MediaNone, (&Message{Text: "x"}).MediaKind())
	assert.Equal(t, MediaSticker, (&Message{Sticker: &Sticker{}}).MediaKind())
	assert.Equal(t, MediaPhoto, (&Message{Photo: []PhotoSize{{}}}).MediaKind())
	// Telegram sends animations with a document copy.
	assert.Equal(t, MediaAnimation, (&Message{Animation: &Animation{}, Document: &Document{}}).MediaKind())
}

func TestMessage_LargestPhoto(t *testing.T) {
	msg := &Message{Photo: []PhotoSize{
		{FileID: "s", Width: 90, Height: 90},
		{FileID: "l", Width: 800, Height: 600},
		{FileID: "m", Width: 320, Height: 240},
	}}
	assert.Equal(t, "l", msg.LargestPhoto().FileID)
	assert.Nil(t, (&Message{}).LargestPhoto())
}

func TestDecodeUpdate(t *testing.T) {
	u, err := DecodeUpdate([]byte(`{"update_id":3,"message":{"message_id":1,"chat":{"id":1,"type":"private"},"text":"/start"}}`))
	require.NoError(t, err)
	assert.EqualValues(t, 3, u.UpdateID)
	assert.True(t, u.Message.IsCommand())

	_, err = DecodeUpdate([]byte(`{"update_id":4,"message":{"chat":{"id":1}},"poll":{"id":"p"}}`))
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.ErrorIs(t, err, ErrMultiplePayloads)

	_, err = DecodeUpdate([]byte(`{`))
	assert.True(t, errors.As(err, &decodeErr))
}
