package leaderboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kevinmok/hypertracker/internal/domain"
	"github.com/kevinmok/hypertracker/internal/platform/hyperliquid"
)

type captureSink struct {
	events []domain.Event
}

func (c *captureSink) Publish(_ context.Context, ev domain.Event) error {
	c.events = append(c.events, ev)
	return nil
}

// fakeInfo serves the single-POST info endpoint with a fixed leaderboard.
func fakeInfo(t *testing.T, rows []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/info" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Type string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Type != "leaderboard" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"leaderboardRows": rows})
	}))
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRefreshScoresAndPublishes(t *testing.T) {
	srv := fakeInfo(t, []map[string]any{
		{"ethAddress": "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "accountValue": "5000000"},
		{"ethAddress": "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", "accountValue": "25000000"},
		{"ethAddress": "0xcccccccccccccccccccccccccccccccccccccccc", "accountValue": "150000"},
		{"ethAddress": "not-an-address", "accountValue": "99000000"},
	})
	defer srv.Close()

	sink := &captureSink{}
	r := New(Options{Interval: time.Hour, TopN: 500}, hyperliquid.NewInfoClient(srv.URL), sink, testLogger())

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(sink.events) != 2 {
		t.Fatalf("published %d events, want 2", len(sink.events))
	}
	if sink.events[0].Topic != domain.TopicScoredTraders {
		t.Errorf("first topic = %s, want %s", sink.events[0].Topic, domain.TopicScoredTraders)
	}
	if sink.events[1].Topic != domain.TopicLeaderboardSnapshot {
		t.Errorf("second topic = %s, want %s", sink.events[1].Topic, domain.TopicLeaderboardSnapshot)
	}

	upd, ok := sink.events[0].Payload.(domain.ScoreUpdate)
	if !ok {
		t.Fatalf("payload type %T, want ScoreUpdate", sink.events[0].Payload)
	}
	// The unparseable address is dropped; the rest score by rank.
	if len(upd.Scores) != 3 {
		t.Fatalf("scored %d traders, want 3", len(upd.Scores))
	}
	top := upd.Scores[0]
	if top.Address != "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb" {
		t.Errorf("top address = %s, want the $25M account", top.Address)
	}
	if top.Tier != domain.TierAlphaWhale {
		t.Errorf("top tier = %s, want %s", top.Tier, domain.TierAlphaWhale)
	}
	for i := 1; i < len(upd.Scores); i++ {
		if upd.Scores[i].Score >= upd.Scores[i-1].Score {
			t.Errorf("scores not strictly decreasing at %d: %g >= %g",
				i, upd.Scores[i].Score, upd.Scores[i-1].Score)
		}
	}
}

func TestRefreshTopNTruncates(t *testing.T) {
	rows := []map[string]any{
		{"ethAddress": "0x1111111111111111111111111111111111111111", "accountValue": "3000000"},
		{"ethAddress": "0x2222222222222222222222222222222222222222", "accountValue": "2000000"},
		{"ethAddress": "0x3333333333333333333333333333333333333333", "accountValue": "1000000"},
	}
	srv := fakeInfo(t, rows)
	defer srv.Close()

	sink := &captureSink{}
	r := New(Options{Interval: time.Hour, TopN: 2}, hyperliquid.NewInfoClient(srv.URL), sink, testLogger())

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	upd := sink.events[0].Payload.(domain.ScoreUpdate)
	if len(upd.Scores) != 2 {
		t.Errorf("scored %d traders, want 2 after truncation", len(upd.Scores))
	}
}

func TestRosterCanonicalizesAddresses(t *testing.T) {
	srv := fakeInfo(t, []map[string]any{
		{"ethAddress": "0xDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDDD", "accountValue": "9000000"},
		{"ethAddress": "bogus", "accountValue": "8000000"},
		{"ethAddress": "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee", "accountValue": "7000000"},
	})
	defer srv.Close()

	r := New(DefaultOptions(), hyperliquid.NewInfoClient(srv.URL), &captureSink{}, testLogger())

	roster, err := r.Roster(context.Background(), 10)
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	want := []string{
		"0xdddddddddddddddddddddddddddddddddddddddd",
		"0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
	}
	if len(roster) != len(want) {
		t.Fatalf("roster = %v, want %v", roster, want)
	}
	for i := range want {
		if roster[i] != want[i] {
			t.Errorf("roster[%d] = %s, want %s", i, roster[i], want[i])
		}
	}
}

func TestRefreshEmptyLeaderboardFails(t *testing.T) {
	srv := fakeInfo(t, nil)
	defer srv.Close()

	r := New(DefaultOptions(), hyperliquid.NewInfoClient(srv.URL), &captureSink{}, testLogger())
	if err := r.Refresh(context.Background()); err == nil {
		t.Error("expected error for empty leaderboard")
	}
}
