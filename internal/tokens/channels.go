package tokens

import (
	"fmt"
	"strings"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/limits"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

// Channel is an outbound invitation transport.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
	ChannelDiscord  Channel = "discord"
	ChannelSlack    Channel = "slack"
)

// tokens charged per recipient
var channelRates = map[Channel]int{
	ChannelEmail:    1,
	ChannelTelegram: 2,
	ChannelDiscord:  1,
	ChannelSlack:    1,
}

// Channels lists the supported channels.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelTelegram, ChannelDiscord, ChannelSlack}
}

// ParseChannel validates a channel name.
func ParseChannel(raw string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := channelRates[ch]; !ok {
		return "", fmt.Errorf("unknown channel %q", raw)
	}
	return ch, nil
}

// Rate is the per-recipient token cost of ch.
func (ch Channel) Rate() int {
	return channelRates[ch]
}

// MessageCost is the number of tokens needed to send one message to recipients.
func MessageCost(ch Channel, recipients int) int {
	if recipients <= 0 {
		return 0
	}
	return ch.Rate() * recipients
}

// ChannelAllowed reports whether tier may send over ch.
func ChannelAllowed(tier tiers.Tier, ch Channel) bool {
	if ch == ChannelTelegram {
		return limits.CanPerformAction(tier, limits.ActionUseTelegram)
	}
	_, ok := channelRates[ch]
	return ok
}
