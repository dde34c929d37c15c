package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/choreboard/internal/auth"
	"github.com/dukerupert/choreboard/internal/database"
	"github.com/dukerupert/choreboard/internal/metrics"
	"github.com/dukerupert/choreboard/internal/model"
	"github.com/dukerupert/choreboard/internal/store"
)

type fixture struct {
	t        *testing.T
	srv      *httptest.Server
	issuer   *auth.Issuer
	familyID string
	parent   string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fam, err := store.NewFamilyStore(db).CreateFamily(context.Background(), "Smith")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}

	iss := auth.NewIssuer("test-secret", time.Hour)
	s := New(db, Config{
		Issuer:        iss,
		Metrics:       metrics.New(),
		Location:      time.UTC,
		WeekStart:     time.Monday,
		DefaultPoints: 5,
	}, slog.Default())

	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)

	f := &fixture{t: t, srv: ts, issuer: iss, familyID: fam.ID}
	f.parent = f.token(auth.AuthContext{ActorID: "parent-1", FamilyID: fam.ID, Role: auth.RoleParent})
	return f
}

func (f *fixture) token(ac auth.AuthContext) string {
	f.t.Helper()
	tok, err := f.issuer.Issue(ac)
	if err != nil {
		f.t.Fatalf("issue token: %v", err)
	}
	return tok
}

// do sends a request and decodes the JSON response into out when non-nil.
func (f *fixture) do(method, path, token string, body any, out any) int {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	if err != nil {
		f.t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		f.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			f.t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHealthIsPublic(t *testing.T) {
	f := setup(t)
	var body map[string]any
	if code := f.do("GET", "/health", "", nil, &body); code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	f := setup(t)
	if code := f.do("GET", "/api/chores", "", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", code, http.StatusUnauthorized)
	}
}

func TestChoreAndRewardFlow(t *testing.T) {
	f := setup(t)

	var ben model.Child
	if code := f.do("POST", "/api/children", f.parent, map[string]string{"name": "Ben"}, &ben); code != http.StatusCreated {
		t.Fatalf("create child: status = %d", code)
	}
	child := f.token(auth.AuthContext{ActorID: ben.ID, FamilyID: f.familyID, Role: auth.RoleChild})

	var bed model.Chore
	if code := f.do("POST", "/api/chores", f.parent, map[string]any{"title": "Make Bed", "points": 5}, &bed); code != http.StatusCreated {
		t.Fatalf("create chore: status = %d", code)
	}

	var a model.Assignment
	if code := f.do("POST", "/api/chores/"+bed.ID+"/assignments", f.parent, map[string]string{"child_id": ben.ID}, &a); code != http.StatusCreated {
		t.Fatalf("assign: status = %d", code)
	}

	var c model.Completion
	if code := f.do("POST", "/api/assignments/"+a.ID+"/completions", child, map[string]string{}, &c); code != http.StatusCreated {
		t.Fatalf("submit: status = %d", code)
	}
	if c.Status != model.CompletionPending {
		t.Errorf("status = %q, want pending", c.Status)
	}

	// Children cannot approve their own work.
	if code := f.do("POST", "/api/completions/"+c.ID+"/approve", child, nil, nil); code != http.StatusForbidden {
		t.Errorf("child approve: status = %d, want %d", code, http.StatusForbidden)
	}

	for i := 0; i < 2; i++ {
		if code := f.do("POST", "/api/completions/"+c.ID+"/approve", f.parent, nil, &c); code != http.StatusOK {
			t.Fatalf("approve #%d: status = %d", i+1, code)
		}
	}

	var bal struct {
		Balance int `json:"balance"`
	}
	f.do("GET", "/api/children/"+ben.ID+"/balance", child, nil, &bal)
	if bal.Balance != 5 {
		t.Errorf("balance = %d, want 5", bal.Balance)
	}

	var sticker model.Reward
	if code := f.do("POST", "/api/rewards", f.parent, map[string]any{"name": "Sticker", "cost_points": 5}, &sticker); code != http.StatusCreated {
		t.Fatalf("create reward: status = %d", code)
	}
	var big model.Reward
	f.do("POST", "/api/rewards", f.parent, map[string]any{"name": "Bike", "cost_points": 500}, &big)

	var errBody struct {
		Balance int `json:"balance"`
		Cost    int `json:"cost"`
	}
	if code := f.do("POST", "/api/rewards/"+big.ID+"/redemptions", child, nil, &errBody); code != http.StatusUnprocessableEntity {
		t.Errorf("request bike: status = %d, want %d", code, http.StatusUnprocessableEntity)
	}
	if errBody.Balance != 5 || errBody.Cost != 500 {
		t.Errorf("insufficient body = %+v", errBody)
	}

	var red model.Redemption
	if code := f.do("POST", "/api/rewards/"+sticker.ID+"/redemptions", child, nil, &red); code != http.StatusCreated {
		t.Fatalf("request sticker: status = %d", code)
	}

	var pending []model.Redemption
	f.do("GET", "/api/redemptions/pending", f.parent, nil, &pending)
	if len(pending) != 1 || pending[0].ID != red.ID {
		t.Errorf("pending = %+v", pending)
	}

	if code := f.do("POST", "/api/redemptions/"+red.ID+"/fulfill", f.parent, nil, &red); code != http.StatusOK || red.Status != model.RedemptionRequested {
		t.Errorf("fulfill before approve: status = %d, redemption = %q", code, red.Status)
	}
	if code := f.do("POST", "/api/redemptions/"+red.ID+"/approve", f.parent, nil, &red); code != http.StatusOK || red.Status != model.RedemptionApproved {
		t.Fatalf("approve: status = %d, redemption = %q", code, red.Status)
	}
	f.do("POST", "/api/redemptions/"+red.ID+"/fulfill", f.parent, nil, &red)
	if red.Status != model.RedemptionFulfilled {
		t.Errorf("redemption = %q, want fulfilled", red.Status)
	}

	var history []model.LedgerEntry
	f.do("GET", "/api/children/"+ben.ID+"/ledger", f.parent, nil, &history)
	if len(history) != 2 || history[0].Delta != -5 || history[1].Delta != 5 {
		t.Errorf("history = %+v", history)
	}
	f.do("GET", "/api/children/"+ben.ID+"/balance", f.parent, nil, &bal)
	if bal.Balance != 0 {
		t.Errorf("balance = %d, want 0", bal.Balance)
	}

	var summary model.DashboardSummary
	if code := f.do("GET", "/api/dashboard", f.parent, nil, &summary); code != http.StatusOK {
		t.Fatalf("dashboard: status = %d", code)
	}
	if summary.PendingApprovals != 0 || len(summary.ChildrenStats) != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestAdjustAndLeaderboard(t *testing.T) {
	f := setup(t)

	var amy, ben model.Child
	f.do("POST", "/api/children", f.parent, map[string]string{"name": "Amy"}, &amy)
	f.do("POST", "/api/children", f.parent, map[string]string{"name": "Ben"}, &ben)

	if code := f.do("POST", "/api/children/"+ben.ID+"/adjustments", f.parent, map[string]any{"delta": 10, "reason": "helped grandma"}, nil); code != http.StatusCreated {
		t.Fatalf("bonus: status = %d", code)
	}
	if code := f.do("POST", "/api/children/"+amy.ID+"/adjustments", f.parent, map[string]any{"delta": 0, "reason": "nothing"}, nil); code != http.StatusBadRequest {
		t.Errorf("zero delta: status = %d, want %d", code, http.StatusBadRequest)
	}

	var board []model.PointBalance
	f.do("GET", "/api/leaderboard", f.parent, nil, &board)
	if len(board) != 2 || board[0].ChildName != "Ben" || board[0].Balance != 10 {
		t.Errorf("leaderboard = %+v", board)
	}
}

func TestPINHandoff(t *testing.T) {
	f := setup(t)

	var ben model.Child
	f.do("POST", "/api/children", f.parent, map[string]string{"name": "Ben"}, &ben)
	if code := f.do("POST", "/api/children/"+ben.ID+"/pin", f.parent, map[string]string{"pin": "0420"}, nil); code != http.StatusOK {
		t.Fatalf("set pin: status = %d", code)
	}

	var out struct {
		Token string `json:"token"`
	}
	if code := f.do("POST", "/api/children/"+ben.ID+"/pin/verify", f.parent, map[string]string{"pin": "0420"}, &out); code != http.StatusOK {
		t.Fatalf("verify: status = %d", code)
	}

	var hist []model.LedgerEntry
	if code := f.do("GET", "/api/children/"+ben.ID+"/ledger", out.Token, nil, &hist); code != http.StatusOK {
		t.Errorf("child token: status = %d, want %d", code, http.StatusOK)
	}

	// The budget is five guesses per minute.
	code := 0
	for i := 0; i < 5; i++ {
		code = f.do("POST", "/api/children/"+ben.ID+"/pin/verify", f.parent, map[string]string{"pin": "9999"}, nil)
	}
	if code != http.StatusTooManyRequests {
		t.Errorf("after budget: status = %d, want %d", code, http.StatusTooManyRequests)
	}
}

func TestPINVerifyRateLimitIgnoresForwardedFor(t *testing.T) {
	f := setup(t)
	limited := 0
	for i := 0; i < pinAttempts+3; i++ {
		req, err := http.NewRequest("POST", f.srv.URL+"/api/children/nope/pin/verify", strings.NewReader(`{"pin":"1234"}`))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+f.parent)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 3 {
		t.Errorf("limited = %d, want 3", limited)
	}
}

func TestOtherFamilyIsNotFound(t *testing.T) {
	f := setup(t)

	var ben model.Child
	f.do("POST", "/api/children", f.parent, map[string]string{"name": "Ben"}, &ben)

	outsider := f.token(auth.AuthContext{ActorID: "parent-x", FamilyID: "other-family", Role: auth.RoleParent})
	if code := f.do("GET", "/api/children/"+ben.ID+"/balance", outsider, nil, nil); code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", code, http.StatusNotFound)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t)
	f.do("GET", "/api/chores", f.parent, nil, nil)

	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `route="GET /api/chores"`) {
		t.Error("metrics missing request for GET /api/chores")
	}
}

func TestPushRoutesDisabledWithoutKeys(t *testing.T) {
	f := setup(t)
	code := f.do("POST", "/api/push/subscriptions", f.parent, map[string]string{"endpoint": "https://push/x", "p256dh": "k", "auth": "a"}, nil)
	if code != http.StatusNotFound && code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404 or 405", code)
	}
}

func TestBackupRoutesDisabledWithoutConfig(t *testing.T) {
	f := setup(t)
	if code := f.do("POST", "/api/backups", f.parent, nil, nil); code != http.StatusNotFound && code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 404 or 405", code)
	}
}

func TestFamilySettings(t *testing.T) {
	f := setup(t)

	var fam model.Family
	if code := f.do("PUT", "/api/family", f.parent, map[string]string{"notify_email": "parents@example.com"}, &fam); code != http.StatusOK {
		t.Fatalf("update: status = %d", code)
	}
	if fam.NotifyEmail != "parents@example.com" {
		t.Errorf("NotifyEmail = %q", fam.NotifyEmail)
	}

	if code := f.do("GET", "/api/family", f.parent, nil, &fam); code != http.StatusOK || fam.ID != f.familyID {
		t.Errorf("get: status = %d, family = %+v", code, fam)
	}
}
