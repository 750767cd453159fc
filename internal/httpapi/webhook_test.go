package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/courtsync/courtsync-backend/internal/hub"
	"github.com/courtsync/courtsync-backend/internal/metrics"
	"github.com/courtsync/courtsync-backend/pkg/types"
)

func newWebhookAPI(t *testing.T) (*API, *hub.Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := hub.NewHub(ctx, time.Minute, nil, zap.NewNop(), metrics.New())
	return &API{hub: h, log: zap.NewNop()}, h
}

func postCallback(t *testing.T, api *API, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/tunnel/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	api.TunnelCallback(rec, req)
	return rec
}

func TestTunnelCallback_StateReachesSubscriber(t *testing.T) {
	api, h := newWebhookAPI(t)

	out := make(chan types.Envelope, 4)
	h.Inbox() <- hub.Register{ClientID: "c1", Outbox: out}
	h.Inbox() <- hub.Subscribe{ClientID: "c1", SessionID: "s1", Kind: hub.TopicState}

	rec := postCallback(t, api, `{"type":"gameState","sessionId":"s1","data":{"quarter":2}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	select {
	case env := <-out:
		if env.Type != types.MsgGameStateUpdate {
			t.Fatalf("want %s, got %s", types.MsgGameStateUpdate, env.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for broadcast")
	}
}

func TestTunnelCallback_EventReachesSubscriber(t *testing.T) {
	api, h := newWebhookAPI(t)

	out := make(chan types.Envelope, 4)
	h.Inbox() <- hub.Register{ClientID: "c1", Outbox: out}
	h.Inbox() <- hub.Subscribe{ClientID: "c1", SessionID: "s1", Kind: hub.TopicEvents}

	body := `{"type":"gameEvent","sessionId":"s1","data":{"id":"e1","sessionId":"s1","authorId":"u1","type":"FOUL","payload":{"teamId":"home","playerId":"p1","foulType":"personal"}}}`
	rec := postCallback(t, api, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	select {
	case env := <-out:
		if env.Type != types.MsgGameEventsUpdate {
			t.Fatalf("want %s, got %s", types.MsgGameEventsUpdate, env.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for broadcast")
	}
}

func TestTunnelCallback_Rejections(t *testing.T) {
	api, _ := newWebhookAPI(t)

	cases := []struct {
		name string
		body string
	}{
		{"not json", `nope`},
		{"missing session", `{"type":"gameState","data":{"quarter":1}}`},
		{"missing data", `{"type":"gameState","sessionId":"s1"}`},
		{"unknown type", `{"type":"halfTimeShow","sessionId":"s1","data":{}}`},
		{"bad event payload", `{"type":"gameEvent","sessionId":"s1","data":{"id":"e1","type":"NOPE","payload":{}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postCallback(t, api, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("want 400, got %d (%s)", rec.Code, rec.Body.String())
			}
		})
	}
}
