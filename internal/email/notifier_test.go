package email

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/notify"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
}

func (f *fakeSender) Send(_ context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	return nil
}

type families map[string]*model.Family

func (f families) GetFamily(_ context.Context, id string) (*model.Family, error) {
	return f[id], nil
}

func TestNotifierSendsApprovalRequests(t *testing.T) {
	s := &fakeSender{}
	fams := families{
		"f1": {ID: "f1", Name: "Smith", NotifyEmail: "parents@example.com"},
		"f2": {ID: "f2", Name: "Jones"},
	}
	n := NewNotifier(s, fams, "https://chores.example.com/", slog.Default())

	n.Notify(context.Background(), notify.Event{Type: notify.RedemptionRequested, FamilyID: "f1", ID: "r1", Title: "Sticker", Points: 5})
	n.Notify(context.Background(), notify.Event{Type: notify.CompletionSubmitted, FamilyID: "f1", ID: "c1", Title: "Make Bed"})
	n.Notify(context.Background(), notify.Event{Type: notify.CompletionApproved, FamilyID: "f1", ID: "c1", Title: "Make Bed"})
	n.Notify(context.Background(), notify.Event{Type: notify.CompletionSubmitted, FamilyID: "f2", ID: "c2", Title: "Dishes"})
	n.Wait()

	if len(s.sent) != 2 {
		t.Fatalf("sent %d emails, want 2", len(s.sent))
	}
	subjects := s.sent[0].Subject + "|" + s.sent[1].Subject
	for _, want := range []string{"Reward request: Sticker", "Chore done: Make Bed"} {
		if !strings.Contains(subjects, want) {
			t.Errorf("subjects %q missing %q", subjects, want)
		}
	}
	for _, m := range s.sent {
		if m.To != "parents@example.com" {
			t.Errorf("To = %q", m.To)
		}
		if !strings.HasSuffix(m.TextBody, "https://chores.example.com") {
			t.Errorf("TextBody = %q, want app link", m.TextBody)
		}
	}
}

func TestApprovalMessageEscapesHTML(t *testing.T) {
	fam := &model.Family{Name: "Smith", NotifyEmail: "p@example.com"}
	m := approvalMessage(fam, notify.Event{Type: notify.CompletionSubmitted, Title: "<b>Dishes</b>"}, "")
	if strings.Contains(m.HTMLBody, "<b>") {
		t.Errorf("HTMLBody not escaped: %q", m.HTMLBody)
	}
	if !strings.Contains(m.TextBody, "<b>Dishes</b>") {
		t.Errorf("TextBody = %q", m.TextBody)
	}
	if m.Tag != "completion_submitted" {
		t.Errorf("Tag = %q, want completion_submitted", m.Tag)
	}
}
