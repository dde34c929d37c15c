package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/notify"
)

type sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

type subscriptions interface {
	ListByFamily(ctx context.Context, familyID string) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, familyID, endpoint string) error
}

const (
	// workers bounds concurrent deliveries across all events.
	workers   = 8
	queueSize = 256
)

type delivery struct {
	ctx      context.Context
	familyID string
	payload  Payload
}

// Notifier delivers workflow events as web push notifications to every
// device subscribed for the family. A fixed pool of workers drains a bounded
// queue; subscriptions the push service reports as gone are removed.
type Notifier struct {
	sender sender
	subs   subscriptions
	logger *slog.Logger
	queue  chan delivery
	wg     sync.WaitGroup
}

func NewNotifier(s sender, subs subscriptions, logger *slog.Logger) *Notifier {
	return newNotifier(s, subs, logger, workers, queueSize)
}

func newNotifier(s sender, subs subscriptions, logger *slog.Logger, nworkers, size int) *Notifier {
	n := &Notifier{
		sender: s,
		subs:   subs,
		logger: logger.With("component", "push"),
		queue:  make(chan delivery, size),
	}
	for range nworkers {
		go n.work()
	}
	return n
}

// Notify implements notify.Notifier. It never blocks: when the queue is
// full the notification is dropped and logged.
func (n *Notifier) Notify(ctx context.Context, e notify.Event) {
	payload, ok := PayloadFor(e)
	if !ok {
		return
	}
	n.wg.Add(1)
	select {
	case n.queue <- delivery{ctx: context.WithoutCancel(ctx), familyID: e.FamilyID, payload: payload}:
	default:
		n.wg.Done()
		n.logger.Warn("push queue full, dropping notification", "family_id", e.FamilyID, "event", e.Type)
	}
}

func (n *Notifier) work() {
	for d := range n.queue {
		n.deliver(d.ctx, d.familyID, d.payload)
		n.wg.Done()
	}
}

// Wait blocks until every queued delivery has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, familyID string, payload Payload) {
	subs, err := n.subs.ListByFamily(ctx, familyID)
	if err != nil {
		n.logger.Error("list push subscriptions", "family_id", familyID, "error", err)
		return
	}
	for i := range subs {
		sub := &subs[i]
		err := n.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
		case errors.Is(err, ErrExpired):
			if err := n.subs.DeleteByEndpoint(ctx, familyID, sub.Endpoint); err != nil {
				n.logger.Error("prune push subscription", "endpoint", sub.Endpoint, "error", err)
				continue
			}
			n.logger.Info("pruned expired push subscription", "family_id", familyID, "device", sub.DeviceName)
		default:
			n.logger.Warn("send push", "family_id", familyID, "device", sub.DeviceName, "error", err)
		}
	}
}

// PayloadFor renders the notification for e. It reports false for events
// that are not worth interrupting anyone for.
func PayloadFor(e notify.Event) (Payload, bool) {
	p := Payload{URL: "/", Tag: fmt.Sprintf("%s:%s", e.Type, e.ID)}
	switch e.Type {
	case notify.CompletionSubmitted:
		p.Title = "Chore done"
		p.Body = fmt.Sprintf("%s is waiting for approval", e.Title)
		p.Urgent = true
	case notify.CompletionApproved:
		p.Title = "Chore approved"
		p.Body = fmt.Sprintf("%s earned %d points", e.Title, e.Points)
	case notify.CompletionRejected:
		p.Title = "Chore needs another try"
		p.Body = "A completion was not approved"
	case notify.RedemptionRequested:
		p.Title = "Reward requested"
		p.Body = fmt.Sprintf("%s for %d points", e.Title, e.Points)
		p.Urgent = true
	case notify.RedemptionApproved:
		p.Title = "Reward approved"
		p.Body = fmt.Sprintf("%s is on its way", e.Title)
	case notify.RedemptionRejected:
		p.Title = "Reward declined"
		p.Body = e.Title
	case notify.RedemptionFulfilled:
		p.Title = "Reward delivered"
		p.Body = fmt.Sprintf("Enjoy your %s", e.Title)
	case notify.LedgerAdjusted:
		p.Title = "Points adjusted"
		p.Body = fmt.Sprintf("%+d: %s", e.Points, e.Title)
	default:
		return Payload{}, false
	}
	return p, true
}
