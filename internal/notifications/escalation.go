// Package notifications alerts human operators about calls the bot could not resolve.
package notifications

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// capacityAlertEvery throttles capacity alerts.
const capacityAlertEvery = time.Minute

// Escalation describes a turn handed off to an operator.
type Escalation struct {
	SessionID  string
	Transcript string
	Problem    string
	Executor   string
	Urgency    string
}

func (e Escalation) summary() string {
	const maxLen = 120
	r := []rune(e.Transcript)
	if len(r) > maxLen {
		return string(r[:maxLen-1]) + "…"
	}
	return e.Transcript
}

// TokenSource lists the operator devices to push to.
type TokenSource interface {
	OperatorDeviceTokens(ctx context.Context) ([]string, error)
}

// Notifier fans an escalation out to every operator device and Discord.
type Notifier struct {
	tokens  TokenSource
	apns    *APNsClient
	discord *Discord
	logger  *log.Logger

	lastCapacityAlert atomic.Int64
	now               func() time.Time
}

func NewNotifier(tokens TokenSource, apns *APNsClient, discord *Discord, logger *log.Logger) *Notifier {
	return &Notifier{tokens: tokens, apns: apns, discord: discord, logger: logger, now: time.Now}
}

// Escalate does not block on delivery.
func (n *Notifier) Escalate(ctx context.Context, e Escalation) {
	if n == nil {
		return
	}
	n.discord.NotifyEscalation(ctx, e)

	if n.apns == nil || n.tokens == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		tokens, err := n.tokens.OperatorDeviceTokens(ctx)
		if err != nil {
			n.logger.Printf("notifications: list operator devices: %v", err)
			return
		}
		for _, t := range tokens {
			_ = n.apns.SendEscalation(t, e)
		}
	}()
}

// CapacityReached reports a refused call, at most once per minute.
func (n *Notifier) CapacityReached(ctx context.Context, active, limit int) {
	if n == nil {
		return
	}
	now := n.now().UnixNano()
	last := n.lastCapacityAlert.Load()
	if last != 0 && now-last < int64(capacityAlertEvery) {
		return
	}
	if !n.lastCapacityAlert.CompareAndSwap(last, now) {
		return
	}
	n.discord.NotifyCapacityReached(ctx, active, limit)
}
