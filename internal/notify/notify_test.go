package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

var feeFailed = domain.Event{
	Type:      domain.EventFeeCollectionFailed,
	Market:    common.HexToAddress("0x01"),
	Data:      map[string]any{"reason": "ledger reverted", "amount": "0.1"},
	Timestamp: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
}

func TestFormat(t *testing.T) {
	title, body := Format(feeFailed)
	assert.Equal(t, "FeeCollectionFailed", title)
	assert.Contains(t, body, "amount: 0.1\nreason: ledger reverted\n")
	assert.Contains(t, body, "at: 2026-06-01 12:00:00Z")
}

func TestNotifier_NotifyAllSenders(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("boom")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, nil)

	err := n.Notify(context.Background(), feeFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"FeeCollectionFailed"}, good.titles)
}

func TestNotifier_FiltersByType(t *testing.T) {
	s := &recordingSender{name: "s"}
	n := NewNotifier([]Sender{s}, []string{" ClaimFailed "}, nil)
	n.Alert(context.Background(), feeFailed)
	assert.Empty(t, n.queue)

	n.Alert(context.Background(), domain.Event{Type: domain.EventClaimFailed})
	assert.Len(t, n.queue, 1)
}

func TestNotifier_RunDelivers(t *testing.T) {
	s := &recordingSender{name: "s"}
	n := NewNotifier([]Sender{s}, nil, nil)
	n.Alert(context.Background(), feeFailed)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- n.Run(ctx) }()
	require.Eventually(t, func() bool { return len(n.queue) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []string{"FeeCollectionFailed"}, s.titles)
}

func TestNotifier_NoSendersDropsAlerts(t *testing.T) {
	n := NewNotifier(nil, nil, nil)
	n.Alert(context.Background(), feeFailed)
	assert.Empty(t, n.queue)
}

func TestTelegramSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "t", "m"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Contains(t, got["text"], "*t*")
}

func TestDiscordSender_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
}
