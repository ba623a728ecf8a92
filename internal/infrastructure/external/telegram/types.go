package telegram

import (
	"encoding/json"
	"strings"
)

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE KINDS
// ══════════════════════════════════════════════════════════════════════════════

// UpdateKind names the payload variant carried by an Update. Values match the
// Bot API "allowed_updates" vocabulary.
type UpdateKind string

const (
	UpdateKindUnknown           UpdateKind = ""
	UpdateKindMessage           UpdateKind = "message"
	UpdateKindEditedMessage     UpdateKind = "edited_message"
	UpdateKindChannelPost       UpdateKind = "channel_post"
	UpdateKindEditedChannelPost UpdateKind = "edited_channel_post"
	UpdateKindInlineQuery       UpdateKind = "inline_query"
	UpdateKindCallbackQuery     UpdateKind = "callback_query"
	UpdateKindPoll              UpdateKind = "poll"
	UpdateKindPollAnswer        UpdateKind = "poll_answer"
)

// MediaKind names the media attachment of a message.
type MediaKind string

const (
	MediaNone      MediaKind = ""
	MediaSticker   MediaKind = "sticker"
	MediaAudio     MediaKind = "audio"
	MediaVideo     MediaKind = "video"
	MediaPhoto     MediaKind = "photo"
	MediaDocument  MediaKind = "document"
	MediaVoice     MediaKind = "voice"
	MediaAnimation MediaKind = "animation"
)

// Chat types.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
	ChatTypeChannel    = "channel"
)

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM API TYPES
// Only the fields the dispatch core and the sample handlers read are modelled.
// ══════════════════════════════════════════════════════════════════════════════

// Update represents a Telegram update. A well-formed update carries exactly
// one payload field.
type Update struct {
	UpdateID          int64          `json:"update_id"`
	Message           *Message       `json:"message,omitempty"`
	EditedMessage     *Message       `json:"edited_message,omitempty"`
	ChannelPost       *Message       `json:"channel_post,omitempty"`
	EditedChannelPost *Message       `json:"edited_channel_post,omitempty"`
	InlineQuery       *InlineQuery   `json:"inline_query,omitempty"`
	CallbackQuery     *CallbackQuery `json:"callback_query,omitempty"`
	Poll              *Poll          `json:"poll,omitempty"`
	PollAnswer        *PollAnswer    `json:"poll_answer,omitempty"`
}

// Kind returns the payload variant of the update, or UpdateKindUnknown when
// the update carries a payload this model does not know about.
func (u *Update) Kind() UpdateKind {
	switch {
	case u == nil:
		return UpdateKindUnknown
	case u.Message != nil:
		return UpdateKindMessage
	case u.EditedMessage != nil:
		return UpdateKindEditedMessage
	case u.ChannelPost != nil:
		return UpdateKindChannelPost
	case u.EditedChannelPost != nil:
		return UpdateKindEditedChannelPost
	case u.InlineQuery != nil:
		return UpdateKindInlineQuery
	case u.CallbackQuery != nil:
		return UpdateKindCallbackQuery
	case u.Poll != nil:
		return UpdateKindPoll
	case u.PollAnswer != nil:
		return UpdateKindPollAnswer
	default:
		return UpdateKindUnknown
	}
}

// payloadCount returns how many payload fields are populated.
func (u *Update) payloadCount() int {
	n := 0
	for _, set := range []bool{
		u.Message != nil,
		u.EditedMessage != nil,
		u.ChannelPost != nil,
		u.EditedChannelPost != nil,
		u.InlineQuery != nil,
		u.CallbackQuery != nil,
		u.Poll != nil,
		u.PollAnswer != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Validate reports ErrMultiplePayloads when more than one payload is set.
func (u *Update) Validate() error {
	if u.payloadCount() > 1 {
		return ErrMultiplePayloads
	}
	return nil
}

// EffectiveMessage returns the message-like payload of the update: the
// message, edited message, channel post, or the message a callback button
// was attached to.
func (u *Update) EffectiveMessage() *Message {
	switch {
	case u == nil:
		return nil
	case u.Message != nil:
		return u.Message
	case u.EditedMessage != nil:
		return u.EditedMessage
	case u.ChannelPost != nil:
		return u.ChannelPost
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost
	case u.CallbackQuery != nil:
		return u.CallbackQuery.Message
	default:
		return nil
	}
}

// EffectiveChat returns the chat the update belongs to, if any.
func (u *Update) EffectiveChat() *Chat {
	if msg := u.EffectiveMessage(); msg != nil {
		return msg.Chat
	}
	return nil
}

// EffectiveSender returns the user who caused the update, if any.
func (u *Update) EffectiveSender() *User {
	switch {
	case u == nil:
		return nil
	case u.CallbackQuery != nil:
		return u.CallbackQuery.From
	case u.InlineQuery != nil:
		return u.InlineQuery.From
	case u.PollAnswer != nil:
		return u.PollAnswer.User
	}
	if msg := u.EffectiveMessage(); msg != nil {
		return msg.From
	}
	return nil
}

// Message represents a Telegram message.
type Message struct {
	MessageID int64           `json:"message_id"`
	From      *User           `json:"from,omitempty"`
	Chat      *Chat           `json:"chat"`
	Date      int64           `json:"date"`
	Text      string          `json:"text,omitempty"`
	Caption   string          `json:"caption,omitempty"`
	Entities  []MessageEntity `json:"entities,omitempty"`

	// Reply information
	ReplyToMessage *Message `json:"reply_to_message,omitempty"`

	// Media
	Sticker   *Sticker    `json:"sticker,omitempty"`
	Audio     *Audio      `json:"audio,omitempty"`
	Video     *Video      `json:"video,omitempty"`
	Photo     []PhotoSize `json:"photo,omitempty"`
	Document  *Document   `json:"document,omitempty"`
	Voice     *Voice      `json:"voice,omitempty"`
	Animation *Animation  `json:"animation,omitempty"`
}

// MediaKind reports which media attachment the message carries.
// Animations are reported before documents because Telegram sends both.
func (m *Message) MediaKind() MediaKind {
	switch {
	case m == nil:
		return MediaNone
	case m.Sticker != nil:
		return MediaSticker
	case m.Animation != nil:
		return MediaAnimation
	case m.Audio != nil:
		return MediaAudio
	case m.Video != nil:
		return MediaVideo
	case len(m.Photo) > 0:
		return MediaPhoto
	case m.Voice != nil:
		return MediaVoice
	case m.Document != nil:
		return MediaDocument
	default:
		return MediaNone
	}
}

// LargestPhoto returns the biggest photo size, or nil.
func (m *Message) LargestPhoto() *PhotoSize {
	if m == nil || len(m.Photo) == 0 {
		return nil
	}
	best := &m.Photo[0]
	for i := range m.Photo {
		if m.Photo[i].Width*m.Photo[i].Height > best.Width*best.Height {
			best = &m.Photo[i]
		}
	}
	return best
}

// IsCommand reports whether the message text looks like a bot command.
func (m *Message) IsCommand() bool {
	return m != nil && strings.HasPrefix(m.Text, "/")
}

// User represents a Telegram user.
type User struct {
	ID           int64  `json:"id"`
	IsBot        bool   `json:"is_bot"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name,omitempty"`
	Username     string `json:"username,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// FullName returns the user's full name.
func (u *User) FullName() string {
	if u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.FirstName
}

// Chat represents a Telegram chat.
type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

// MessageEntity represents a message entity (command, mention, etc.).
type MessageEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

// CallbackQuery represents a callback query from an inline keyboard.
type CallbackQuery struct {
	ID              string   `json:"id"`
	From            *User    `json:"from"`
	Message         *Message `json:"message,omitempty"`
	InlineMessageID string   `json:"inline_message_id,omitempty"`
	Data            string   `json:"data,omitempty"`
}

// InlineQuery represents an incoming inline query.
type InlineQuery struct {
	ID     string `json:"id"`
	From   *User  `json:"from"`
	Query  string `json:"query"`
	Offset string `json:"offset"`
}

// Poll represents a poll state update.
type Poll struct {
	ID       string       `json:"id"`
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
	IsClosed bool         `json:"is_closed"`
}

// PollOption is one answer option of a poll.
type PollOption struct {
	Text       string `json:"text"`
	VoterCount int    `json:"voter_count"`
}

// PollAnswer represents a user's answer in a non-anonymous poll.
type PollAnswer struct {
	PollID    string `json:"poll_id"`
	User      *User  `json:"user,omitempty"`
	OptionIDs []int  `json:"option_ids"`
}

// Sticker represents a sticker.
type Sticker struct {
	FileID     string `json:"file_id"`
	Emoji      string `json:"emoji,omitempty"`
	SetName    string `json:"set_name,omitempty"`
	IsAnimated bool   `json:"is_animated"`
}

// Audio represents an audio file.
type Audio struct {
	FileID    string `json:"file_id"`
	Duration  int    `json:"duration"`
	Performer string `json:"performer,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Video represents a video file.
type Video struct {
	FileID   string `json:"file_id"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Duration int    `json:"duration"`
}

// PhotoSize represents one size of a photo.
type PhotoSize struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Document represents a general file.
type Document struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Voice represents a voice note.
type Voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
}

// Animation represents an animation (GIF or H.264 without sound).
type Animation struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
}

// InlineKeyboardMarkup represents an inline keyboard.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// InlineKeyboardButton represents a button in an inline keyboard.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

// APIResponse represents a Telegram API response.
type APIResponse struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Parameters  *ResponseParameters `json:"parameters,omitempty"`
}

// ResponseParameters contains additional error parameters.
type ResponseParameters struct {
	MigrateToChatID int64 `json:"migrate_to_chat_id,omitempty"`
	RetryAfter      int   `json:"retry_after,omitempty"`
}

// DecodeUpdate decodes a single update from JSON and validates it.
func DecodeUpdate(data []byte) (*Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, &DecodeError{Method: "update", Err: err}
	}
	if err := u.Validate(); err != nil {
		return nil, &DecodeError{Method: "update", Err: err}
	}
	return &u, nil
}
