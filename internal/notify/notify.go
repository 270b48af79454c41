// Package notify delivers web push notifications about new messages to
// participants who are away.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"dmchat/internal/content"
	"dmchat/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const (
	maxBodyRunes = 120
	pushTTL      = 60 * 60
	sendTimeout  = 10 * time.Second
)

type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
}

type subscriptionStore interface {
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

type userLookup interface {
	GetUser(userID string) (models.User, error)
}

type connections interface {
	IsConnected(userID string) bool
}

type sendFunc func(ctx context.Context, payload []byte, sub *webpush.Subscription, opts *webpush.Options) (*http.Response, error)

// Payload is what the service worker receives.
type Payload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	Icon           string `json:"icon,omitempty"`
	ConversationID string `json:"conversationId"`
}

type Notifier struct {
	ctx   context.Context
	subs  subscriptionStore
	users userLookup
	live  connections
	opts  webpush.Options
	send  sendFunc
	now   func() time.Time
	wg    sync.WaitGroup
}

// New returns a notifier that sends from the background until ctx is done.
func New(ctx context.Context, cfg Config, subs subscriptionStore, users userLookup, live connections) *Notifier {
	return &Notifier{
		ctx:   ctx,
		subs:  subs,
		users: users,
		live:  live,
		opts: webpush.Options{
			Subscriber:      cfg.Subject,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             pushTTL,
		},
		send: webpush.SendNotificationWithContext,
		now:  time.Now,
	}
}

// MessageSent queues notifications for msg and returns immediately.
func (n *Notifier) MessageSent(conv models.Conversation, msg models.Message) {
	n.wg.Go(func() {
		n.deliver(conv, msg)
	})
}

// Wait blocks until queued notifications are done.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(conv models.Conversation, msg models.Message) {
	sender, err := n.users.GetUser(msg.SenderID)
	if err != nil {
		sender = models.User{ID: msg.SenderID, Name: models.UnknownUserName}
	}
	payload, err := json.Marshal(Payload{
		Title:          sender.Name,
		Body:           preview(msg.Content),
		Icon:           sender.Avatar,
		ConversationID: conv.ID,
	})
	if err != nil {
		slog.Error("failed to encode push payload", "error", err)
		return
	}

	for _, recipientID := range conv.Participants {
		if recipientID == msg.SenderID || !n.away(recipientID) {
			continue
		}
		n.deliverTo(recipientID, payload)
	}
}

// away reports whether userID neither holds a live connection nor was seen
// within the online window.
func (n *Notifier) away(userID string) bool {
	if n.live != nil && n.live.IsConnected(userID) {
		return false
	}
	u, err := n.users.GetUser(userID)
	if err != nil {
		return false
	}
	return !u.Online(n.now())
}

func (n *Notifier) deliverTo(userID string, payload []byte) {
	subs, err := n.subs.ListPushSubscriptions(userID)
	if err != nil {
		slog.Error("failed to list push subscriptions", "user_id", userID, "error", err)
		return
	}

	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(n.ctx, sendTimeout)
		resp, err := n.send(ctx, payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				Auth:   sub.Auth,
				P256dh: sub.P256dh,
			},
		}, &n.opts)
		cancel()
		if err != nil {
			slog.Error("push delivery failed", "user_id", userID, "error", err)
			continue
		}
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			if err := n.subs.DeletePushSubscription(userID, sub.Endpoint); err != nil {
				slog.Error("failed to drop stale push subscription", "user_id", userID, "error", err)
			}
		case resp.StatusCode >= 300:
			slog.Warn("push service rejected notification", "user_id", userID, "status", resp.StatusCode)
		}
	}
}

func preview(text string) string {
	text = content.StripTags(text)
	if utf8.RuneCountInString(text) <= maxBodyRunes {
		return text
	}
	r := []rune(text)
	return string(r[:maxBodyRunes-1]) + "…"
}

// GenerateKeys creates a VAPID key pair for VAPID_PRIVATE_KEY and
// VAPID_PUBLIC_KEY.
func GenerateKeys() (privateKey, publicKey string, err error) {
	return webpush.GenerateVAPIDKeys()
}
