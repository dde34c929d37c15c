package email

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/notify"
)

const sendTimeout = 10 * time.Second

type sender interface {
	Send(ctx context.Context, m Message) error
}

type familyLookup interface {
	GetFamily(ctx context.Context, id string) (*model.Family, error)
}

// Notifier emails the family's notify address whenever something is waiting
// for a parent: a submitted completion or a requested redemption.
type Notifier struct {
	sender   sender
	families familyLookup
	baseURL  string
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func NewNotifier(s sender, families familyLookup, baseURL string, logger *slog.Logger) *Notifier {
	return &Notifier{
		sender:   s,
		families: families,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger.With("component", "email"),
	}
}

// Notify implements notify.Notifier. Sending happens in the background.
func (n *Notifier) Notify(ctx context.Context, e notify.Event) {
	if e.Type != notify.CompletionSubmitted && e.Type != notify.RedemptionRequested {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		n.deliver(ctx, e)
	}()
}

func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) deliver(ctx context.Context, e notify.Event) {
	fam, err := n.families.GetFamily(ctx, e.FamilyID)
	if err != nil {
		n.logger.Error("load family", "family_id", e.FamilyID, "error", err)
		return
	}
	if fam == nil || fam.NotifyEmail == "" {
		return
	}
	msg := approvalMessage(fam, e, n.baseURL)
	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Warn("send approval email", "family_id", fam.ID, "event", e.Type, "error", err)
		return
	}
	n.logger.Info("approval email sent", "family_id", fam.ID, "event", e.Type, "id", e.ID)
}

func approvalMessage(fam *model.Family, e notify.Event, baseURL string) Message {
	var subject, line string
	switch e.Type {
	case notify.RedemptionRequested:
		subject = fmt.Sprintf("Reward request: %s", e.Title)
		line = fmt.Sprintf("%s (%d points) is waiting for your approval.", e.Title, e.Points)
	default:
		subject = fmt.Sprintf("Chore done: %s", e.Title)
		line = fmt.Sprintf("%s was marked done and is waiting for your approval.", e.Title)
	}

	text := line
	htmlBody := "<p>" + html.EscapeString(line) + "</p>"
	if baseURL != "" {
		text += "\n\n" + baseURL
		htmlBody += fmt.Sprintf(`<p><a href="%s">Open %s</a></p>`, html.EscapeString(baseURL), html.EscapeString(fam.Name))
	}
	return Message{To: fam.NotifyEmail, Subject: subject, TextBody: text, HTMLBody: htmlBody, Tag: string(e.Type)}
}
