// Package notify delivers user-facing notices raised by background jobs.
// Transport is out of scope; the log notifier records what would be sent.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tokens"
)

// ErrInvalidNotice is returned for a notice without a recipient.
var ErrInvalidNotice = errors.New("notice has no user")

// TokenLimitNotice tells a user their balance is close to, or at, the tier ceiling.
type TokenLimitNotice struct {
	UserID string
	Tier   tiers.Tier
	Info   tokens.LimitInfo
}

// Message renders the notice text.
func (n TokenLimitNotice) Message() string {
	if n.Info.IsAtLimit {
		msg := fmt.Sprintf("You have reached your %s token limit (%d of %d).", n.Tier.DisplayName(), n.Info.CurrentBalance, n.Info.Limit)
		if n.Info.RecommendedUpgrade != "" {
			msg += fmt.Sprintf(" Upgrade to %s to keep sending.", n.Info.RecommendedUpgrade.DisplayName())
		}
		return msg
	}
	msg := fmt.Sprintf("You have used %.0f%% of your %s token limit.", n.Info.PercentageUsed, n.Tier.DisplayName())
	if n.Info.RecommendedUpgrade != "" {
		msg += fmt.Sprintf(" Consider upgrading to %s.", n.Info.RecommendedUpgrade.DisplayName())
	}
	return msg
}

// Notifier sends notices to users.
type Notifier interface {
	NotifyTokenLimit(ctx context.Context, n TokenLimitNotice) error
}

// LogNotifier writes notices to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

// NewLogNotifier returns a notifier over the global logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{Logger: log.Logger}
}

func (l *LogNotifier) NotifyTokenLimit(_ context.Context, n TokenLimitNotice) error {
	if n.UserID == "" {
		return ErrInvalidNotice
	}
	l.Logger.Info().
		Str("user_id", n.UserID).
		Str("tier", string(n.Tier)).
		Int("balance", n.Info.CurrentBalance).
		Bool("at_limit", n.Info.IsAtLimit).
		Msg("[notify] " + n.Message())
	return nil
}

// Recorder keeps notices in memory. Useful in tests and dry runs.
type Recorder struct {
	mu      sync.Mutex
	notices []TokenLimitNotice
}

func (r *Recorder) NotifyTokenLimit(_ context.Context, n TokenLimitNotice) error {
	if n.UserID == "" {
		return ErrInvalidNotice
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []TokenLimitNotice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TokenLimitNotice(nil), r.notices...)
}
