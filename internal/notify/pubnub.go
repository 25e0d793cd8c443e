package notify

import (
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go/v7"
)

type Config struct {
	PublishKey   string
	SubscribeKey string
	SecretKey    string
	UserID       string
}

// Publisher pushes ticket lifecycle events to per-user PubNub channels.
// A nil Publisher drops everything.
type Publisher struct {
	pn *pubnub.PubNub
}

// New returns nil when no publish key is configured.
func New(cfg Config) *Publisher {
	if cfg.PublishKey == "" {
		return nil
	}
	if cfg.UserID == "" {
		cfg.UserID = "ticket-ledger"
	}

	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	pnCfg.SecretKey = cfg.SecretKey

	return &Publisher{pn: pubnub.NewPubNub(pnCfg)}
}

func (p *Publisher) Publish(userID, kind string, payload map[string]any) {
	if p == nil || p.pn == nil || userID == "" {
		return
	}

	channel := Channel(userID)
	_, _, err := p.pn.Publish().
		Channel(channel).
		Message(message(kind, payload)).
		Execute()
	if err != nil {
		slog.Warn("Failed to publish notification", "channel", channel, "type", kind, "error", err)
	}
}

func Channel(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

func message(kind string, payload map[string]any) map[string]any {
	msg := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		msg[k] = v
	}
	msg["type"] = kind
	return msg
}
