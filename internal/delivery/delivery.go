// Package delivery pushes assistant messages to a session over the channel it
// arrived on: a live websocket or Telegram.
package delivery

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// ErrNoRecipient means nothing is currently listening for the session.
var ErrNoRecipient = errors.New("no live recipient for session")

const (
	// ChannelWeb is the default channel for HTTP and websocket sessions.
	ChannelWeb = "web"
	// channelTelegramPrefix is followed by the numeric chat id.
	channelTelegramPrefix = "telegram:"
)

// Notifier delivers text to a session.
type Notifier interface {
	Notify(ctx context.Context, sessionID, channel, text string) error
}

// TelegramChannel returns the channel hint for a Telegram chat.
func TelegramChannel(chatID int64) string {
	return channelTelegramPrefix + strconv.FormatInt(chatID, 10)
}

// TelegramChatID extracts the chat id from a channel hint.
func TelegramChatID(channel string) (int64, bool) {
	rest, ok := strings.CutPrefix(channel, channelTelegramPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Fanout picks a notifier from the session's channel hint.
type Fanout struct {
	Web      Notifier
	Telegram Notifier
}

// Notify routes to Telegram for telegram:<id> channels and to the web hub otherwise.
func (f Fanout) Notify(ctx context.Context, sessionID, channel, text string) error {
	if _, ok := TelegramChatID(channel); ok {
		if f.Telegram == nil {
			return ErrNoRecipient
		}
		return f.Telegram.Notify(ctx, sessionID, channel, text)
	}
	if f.Web == nil {
		return ErrNoRecipient
	}
	return f.Web.Notify(ctx, sessionID, channel, text)
}
