package phone_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AustinMutschler/partyphone/pkg/ari"
	"github.com/AustinMutschler/partyphone/pkg/phone"
)

// fakeStream feeds scripted events into the network's dispatch loop.
type fakeStream struct {
	events chan *ari.Event
	once   sync.Once
}

func (s *fakeStream) Events() <-chan *ari.Event { return s.events }
func (s *fakeStream) Err() error                { return nil }
func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

// fakeClient records control commands and answers media setup with a
// fixed RTP port so sessions come up against loopback.
type fakeClient struct {
	mu         sync.Mutex
	stream     *fakeStream
	hangups    []string
	answers    []string
	plays      []string
	destroyed  []string
	originated []ari.OriginateRequest
	channels   []ari.Channel
	bridges    []ari.Bridge
	nextChanID int
}

func newFakeClient() *fakeClient {
	return &fakeClient{stream: &fakeStream{events: make(chan *ari.Event, 16)}}
}

func (f *fakeClient) push(ev *ari.Event) { f.stream.events <- ev }

func (f *fakeClient) record(list *[]string, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*list = append(*list, id)
}

func (f *fakeClient) recorded(list *[]string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), (*list)...)
}

func (f *fakeClient) Answer(_ context.Context, channelID string) error {
	f.record(&f.answers, channelID)
	return nil
}

func (f *fakeClient) Hangup(_ context.Context, channelID string) error {
	f.record(&f.hangups, channelID)
	return nil
}

func (f *fakeClient) Play(_ context.Context, channelID, mediaURI string) (*ari.Playback, error) {
	f.record(&f.plays, mediaURI)
	return &ari.Playback{ID: "pb-" + channelID, MediaURI: mediaURI}, nil
}

func (f *fakeClient) Originate(_ context.Context, req ari.OriginateRequest) (*ari.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.originated = append(f.originated, req)
	f.nextChanID++
	return &ari.Channel{ID: fmt.Sprintf("out-%d", f.nextChanID), Name: req.Endpoint + "-1"}, nil
}

func (f *fakeClient) CreateExternalMedia(_ context.Context, req ari.ExternalMediaRequest) (*ari.Channel, error) {
	return &ari.Channel{
		ID:          "media-1",
		Name:        "UnicastRTP/127.0.0.1",
		Channelvars: map[string]string{"UNICASTRTP_LOCAL_PORT": "40000"},
	}, nil
}

func (f *fakeClient) CreateBridge(_ context.Context, bridgeType string) (*ari.Bridge, error) {
	return &ari.Bridge{ID: "bridge-1", Type: bridgeType}, nil
}

func (f *fakeClient) AddChannels(_ context.Context, bridgeID string, channelIDs ...string) error {
	return nil
}

func (f *fakeClient) DestroyBridge(_ context.Context, bridgeID string) error {
	f.record(&f.destroyed, bridgeID)
	return nil
}

func (f *fakeClient) Channels(_ context.Context) ([]ari.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ari.Channel(nil), f.channels...), nil
}

func (f *fakeClient) Bridges(_ context.Context) ([]ari.Bridge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ari.Bridge(nil), f.bridges...), nil
}

func (f *fakeClient) Subscribe(_ context.Context, app string) (ari.EventStream, error) {
	return f.stream, nil
}

func (f *fakeClient) Close() error { return nil }

func startNetwork(t *testing.T, client *fakeClient) *phone.Network {
	t.Helper()
	n := phone.NewNetwork(client, phone.Options{App: "partyphone"})
	if err := n.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(n.Stop)
	return n
}

func inboundStart(id, exten string) *ari.Event {
	return &ari.Event{
		Type: ari.EventStasisStart,
		Channel: &ari.Channel{
			ID:       id,
			Name:     "PJSIP/caller-0001",
			Dialplan: ari.Dialplan{Exten: exten},
			Caller:   ari.Caller{Number: "555"},
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInboundDispatch(t *testing.T) {
	client := newFakeClient()
	n := startNetwork(t, client)

	calls := make(chan *phone.Call, 1)
	n.RegisterHandlerByNumber("100", func(ctx context.Context, call *phone.Call) {
		calls <- call
	})

	client.push(inboundStart("chan-1", "100"))

	var call *phone.Call
	select {
	case call = <-calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not invoked")
	}
	if call.Number() != "100" {
		t.Fatalf("Number() = %q, want 100", call.Number())
	}
	if call.Outbound() {
		t.Fatalf("inbound call marked outbound")
	}
	if call.Media == nil {
		t.Fatalf("call dispatched without media session")
	}
	if call.Ended() {
		t.Fatalf("call ended before StasisEnd")
	}

	client.push(&ari.Event{Type: ari.EventStasisEnd, Channel: &ari.Channel{ID: "chan-1"}})
	select {
	case <-call.End():
	case <-time.After(2 * time.Second):
		t.Fatalf("End() not closed after StasisEnd")
	}
}

func TestUnregisteredNumberGetsNoService(t *testing.T) {
	client := newFakeClient()
	startNetwork(t, client)

	client.push(inboundStart("chan-2", "999"))

	waitFor(t, "no-service playback", func() bool {
		plays := client.recorded(&client.plays)
		return len(plays) == 1 && plays[0] == "sound:ss-noservice"
	})

	client.push(&ari.Event{Type: ari.EventPlaybackFinished, Playback: &ari.Playback{ID: "pb-chan-2"}})

	waitFor(t, "hangup of unrouted call", func() bool {
		hangups := client.recorded(&client.hangups)
		return len(hangups) == 1 && hangups[0] == "chan-2"
	})
}

func TestMediaLegsAreIgnored(t *testing.T) {
	client := newFakeClient()
	n := startNetwork(t, client)

	invoked := make(chan struct{}, 1)
	n.RegisterHandlerByNumber("100", func(ctx context.Context, call *phone.Call) {
		invoked <- struct{}{}
	})

	for _, name := range []string{"UnicastRTP/127.0.0.1-0x1", "Snoop/chan-1-0x2"} {
		client.push(&ari.Event{
			Type:    ari.EventStasisStart,
			Channel: &ari.Channel{ID: name, Name: name, Dialplan: ari.Dialplan{Exten: "100"}},
		})
	}

	select {
	case <-invoked:
		t.Fatalf("handler invoked for a media leg")
	case <-time.After(100 * time.Millisecond):
	}
	if hangups := client.recorded(&client.hangups); len(hangups) != 0 {
		t.Fatalf("media legs hung up: %v", hangups)
	}
}

func TestMakeCallAnswered(t *testing.T) {
	client := newFakeClient()
	n := startNetwork(t, client)

	handled := make(chan *phone.Call, 1)
	result := make(chan bool, 1)
	go func() {
		answered, err := n.MakeCall(t.Context(), "200", func(ctx context.Context, call *phone.Call) {
			handled <- call
		})
		if err != nil {
			t.Errorf("MakeCall: %v", err)
		}
		result <- answered
	}()

	var req ari.OriginateRequest
	waitFor(t, "origination", func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		if len(client.originated) == 0 {
			return false
		}
		req = client.originated[0]
		return true
	})
	if req.Endpoint != "PJSIP/200" {
		t.Fatalf("endpoint = %q, want PJSIP/200", req.Endpoint)
	}
	if req.AppArgs != "outgoing" {
		t.Fatalf("app args = %q, want outgoing", req.AppArgs)
	}

	client.push(&ari.Event{
		Type:    ari.EventStasisStart,
		Args:    []string{"outgoing"},
		Channel: &ari.Channel{ID: "out-1", Name: "PJSIP/200-1"},
	})

	select {
	case answered := <-result:
		if !answered {
			t.Fatalf("MakeCall returned false for an answered call")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("MakeCall did not return")
	}
	select {
	case call := <-handled:
		if !call.Outbound() {
			t.Fatalf("originated call not marked outbound")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not invoked")
	}
}

func TestMakeCallRemovesRegistrationOnGiveUp(t *testing.T) {
	client := newFakeClient()
	n := startNetwork(t, client)

	ctx, cancel := context.WithCancel(t.Context())
	invoked := make(chan struct{}, 1)
	done := make(chan bool, 1)
	go func() {
		answered, _ := n.MakeCall(ctx, "200", func(ctx context.Context, call *phone.Call) {
			invoked <- struct{}{}
		})
		done <- answered
	}()

	waitFor(t, "origination", func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return len(client.originated) == 1
	})
	cancel()

	select {
	case answered := <-done:
		if answered {
			t.Fatalf("MakeCall reported answered after giving up")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("MakeCall did not return after cancel")
	}

	// A late answer must not reach the handler.
	client.push(&ari.Event{
		Type:    ari.EventStasisStart,
		Args:    []string{"outgoing"},
		Channel: &ari.Channel{ID: "out-1", Name: "PJSIP/200-1"},
	})
	select {
	case <-invoked:
		t.Fatalf("handler invoked after MakeCall gave up")
	case <-time.After(100 * time.Millisecond):
	}
	waitFor(t, "late answer hangup", func() bool {
		for _, id := range client.recorded(&client.hangups) {
			if id == "out-1" {
				return true
			}
		}
		return false
	})
}

func TestIsLineBusy(t *testing.T) {
	client := newFakeClient()
	n := phone.NewNetwork(client, phone.Options{App: "partyphone"})

	client.channels = []ari.Channel{
		{ID: "a", Name: "PJSIP/200-0001", State: "Up"},
		{ID: "b", Name: "PJSIP/300-0001", State: "Ring"},
	}

	busy, err := n.IsLineBusy(t.Context(), "200")
	if err != nil || !busy {
		t.Fatalf("IsLineBusy(200) = %v, %v; want true", busy, err)
	}
	busy, err = n.IsLineBusy(t.Context(), "300")
	if err != nil || busy {
		t.Fatalf("IsLineBusy(300) = %v, %v; want false, ringing is not busy", busy, err)
	}
	busy, err = n.IsLineBusy(t.Context(), "400")
	if err != nil || busy {
		t.Fatalf("IsLineBusy(400) = %v, %v; want false", busy, err)
	}
}

func TestStartClearsStaleState(t *testing.T) {
	client := newFakeClient()
	client.bridges = []ari.Bridge{{ID: "old-bridge"}}
	client.channels = []ari.Channel{{ID: "old-chan", Name: "PJSIP/100-0001"}}

	startNetwork(t, client)

	if destroyed := client.recorded(&client.destroyed); len(destroyed) != 1 || destroyed[0] != "old-bridge" {
		t.Fatalf("destroyed = %v, want [old-bridge]", destroyed)
	}
	if hangups := client.recorded(&client.hangups); len(hangups) != 1 || hangups[0] != "old-chan" {
		t.Fatalf("hangups = %v, want [old-chan]", hangups)
	}
}

func TestEndedCallBridgeIsDestroyed(t *testing.T) {
	client := newFakeClient()
	n := startNetwork(t, client)

	calls := make(chan *phone.Call, 1)
	n.RegisterHandlerByNumber("100", func(ctx context.Context, call *phone.Call) {
		calls <- call
	})
	client.push(inboundStart("chan-1", "100"))
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not invoked")
	}

	// The far end hangs up mid-run; the mixing bridge must not stay
	// behind in Asterisk until the next restart sweep.
	client.push(&ari.Event{Type: ari.EventStasisEnd, Channel: &ari.Channel{ID: "chan-1"}})
	waitFor(t, "bridge destroyed", func() bool {
		for _, id := range client.recorded(&client.destroyed) {
			if id == "bridge-1" {
				return true
			}
		}
		return false
	})
}

func TestStopSweepsAllBridges(t *testing.T) {
	client := newFakeClient()
	n := phone.NewNetwork(client, phone.Options{App: "partyphone"})
	if err := n.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Bridges known to Asterisk at shutdown, none tied to an active
	// call.
	client.mu.Lock()
	client.bridges = []ari.Bridge{{ID: "b-1"}, {ID: "b-2"}}
	client.mu.Unlock()

	n.Stop()

	destroyed := client.recorded(&client.destroyed)
	for _, want := range []string{"b-1", "b-2"} {
		found := false
		for _, id := range destroyed {
			if id == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("Stop did not destroy %s; destroyed = %v", want, destroyed)
		}
	}
}

func TestWatchEndUnknownChannel(t *testing.T) {
	client := newFakeClient()
	n := startNetwork(t, client)

	select {
	case <-n.WatchEnd("never-seen"):
	default:
		t.Fatalf("WatchEnd for an unknown channel should be closed")
	}
}
