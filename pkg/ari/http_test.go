package ari_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AustinMutschler/partyphone/pkg/ari"
)

// recordedRequest captures what the REST layer sent.
type recordedRequest struct {
	method string
	path   string
	query  map[string]string
	user   string
	pass   string
}

func newTestServer(t *testing.T, status int, body string) (*ari.HTTPClient, *[]recordedRequest) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recordedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  map[string]string{},
		}
		for k, vs := range r.URL.Query() {
			rec.query[k] = vs[0]
		}
		rec.user, rec.pass, _ = r.BasicAuth()
		mu.Lock()
		reqs = append(reqs, rec)
		mu.Unlock()

		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return ari.NewHTTPClient(srv.URL+"/ari", "asterisk", "secret"), &reqs
}

func TestAnswerAndHangupPaths(t *testing.T) {
	client, reqs := newTestServer(t, http.StatusNoContent, "")

	if err := client.Answer(t.Context(), "chan-1"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if err := client.Hangup(t.Context(), "chan-1"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}

	got := *reqs
	if len(got) != 2 {
		t.Fatalf("%d requests, want 2", len(got))
	}
	if got[0].method != http.MethodPost || got[0].path != "/ari/channels/chan-1/answer" {
		t.Errorf("answer request = %s %s", got[0].method, got[0].path)
	}
	if got[1].method != http.MethodDelete || got[1].path != "/ari/channels/chan-1" {
		t.Errorf("hangup request = %s %s", got[1].method, got[1].path)
	}
	if got[0].user != "asterisk" || got[0].pass != "secret" {
		t.Errorf("basic auth = %s:%s", got[0].user, got[0].pass)
	}
}

func TestOriginateQuery(t *testing.T) {
	client, reqs := newTestServer(t, http.StatusOK, `{"id":"out-1","name":"PJSIP/100-0001"}`)

	ch, err := client.Originate(t.Context(), ari.OriginateRequest{
		Endpoint:       "PJSIP/100",
		App:            "partyphone",
		AppArgs:        "outgoing",
		TimeoutSeconds: 70,
	})
	if err != nil {
		t.Fatalf("Originate: %v", err)
	}
	if ch.ID != "out-1" {
		t.Fatalf("channel id = %q", ch.ID)
	}

	q := (*reqs)[0].query
	for k, want := range map[string]string{
		"endpoint": "PJSIP/100",
		"app":      "partyphone",
		"appArgs":  "outgoing",
		"timeout":  "70",
	} {
		if q[k] != want {
			t.Errorf("query %s = %q, want %q", k, q[k], want)
		}
	}
}

func TestExternalMediaQuery(t *testing.T) {
	client, reqs := newTestServer(t, http.StatusOK,
		`{"id":"em-1","channelvars":{"UNICASTRTP_LOCAL_PORT":"40000"}}`)

	ch, err := client.CreateExternalMedia(t.Context(), ari.ExternalMediaRequest{
		App:          "partyphone",
		ExternalHost: "127.0.0.1:18000",
		Format:       "ulaw",
	})
	if err != nil {
		t.Fatalf("CreateExternalMedia: %v", err)
	}
	if ch.Channelvars["UNICASTRTP_LOCAL_PORT"] != "40000" {
		t.Fatalf("channelvars = %v", ch.Channelvars)
	}

	rec := (*reqs)[0]
	if rec.path != "/ari/channels/externalMedia" {
		t.Errorf("path = %q", rec.path)
	}
	if rec.query["external_host"] != "127.0.0.1:18000" || rec.query["format"] != "ulaw" {
		t.Errorf("query = %v", rec.query)
	}
}

func TestNotFoundError(t *testing.T) {
	client, _ := newTestServer(t, http.StatusNotFound, `{"message":"Channel not found"}`)

	err := client.Hangup(t.Context(), "gone")
	if err == nil {
		t.Fatalf("Hangup of a missing channel succeeded")
	}
	if !ari.IsNotFound(err) {
		t.Fatalf("IsNotFound(%v) = false", err)
	}

	client2, _ := newTestServer(t, http.StatusInternalServerError, "boom")
	if err := client2.Answer(t.Context(), "x"); ari.IsNotFound(err) {
		t.Fatalf("IsNotFound reported true for a 500")
	}
}

func TestSubscribeDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ari/events" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("app") != "partyphone" {
			t.Errorf("app = %q", r.URL.Query().Get("app"))
		}
		if r.URL.Query().Get("api_key") != "asterisk:secret" {
			t.Errorf("api_key = %q", r.URL.Query().Get("api_key"))
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conn.WriteJSON(map[string]any{
			"type":        "StasisStart",
			"application": "partyphone",
			"channel":     map[string]any{"id": "chan-1", "dialplan": map[string]any{"exten": "100"}},
			"args":        []string{"outgoing"},
		})
	}))
	t.Cleanup(srv.Close)

	client := ari.NewHTTPClient(srv.URL+"/ari", "asterisk", "secret")
	stream, err := client.Subscribe(t.Context(), "partyphone")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stream.Close()

	select {
	case ev := <-stream.Events():
		if ev.Type != ari.EventStasisStart {
			t.Fatalf("event type = %q", ev.Type)
		}
		if ev.Channel == nil || ev.Channel.ID != "chan-1" {
			t.Fatalf("event channel = %+v", ev.Channel)
		}
		if !ev.Outbound() {
			t.Fatalf("event with outgoing arg not recognized as outbound")
		}
		if len(ev.Raw) == 0 {
			t.Fatalf("raw event payload not retained")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event delivered")
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-stream.Events():
		if ok {
			// Late buffered events are fine; the channel must still close.
			break
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events channel not closed after Close")
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("Err() after clean close = %v", err)
	}
}

func TestEventDecode(t *testing.T) {
	raw := []byte(`{"type":"PlaybackFinished","playback":{"id":"pb-1","media_uri":"sound:ss-noservice"}}`)
	var ev ari.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != ari.EventPlaybackFinished || ev.Playback.ID != "pb-1" {
		t.Fatalf("event = %+v", ev)
	}
}
