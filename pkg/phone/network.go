package phone

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AustinMutschler/partyphone/pkg/ari"
	"github.com/AustinMutschler/partyphone/pkg/media"
)

const (
	// answerTimeout is how long MakeCall waits for the far end to pick
	// up before giving up on the origination.
	answerTimeout = 70 * time.Second

	// outgoingArg marks a StasisStart as the answered leg of a call we
	// originated, as opposed to a call someone placed to us.
	outgoingArg = "outgoing"

	// noServiceSound plays to callers who dial a number nothing is
	// registered on.
	noServiceSound = "sound:ss-noservice"

	// endpointPrefix is the channel technology used for all endpoints.
	endpointPrefix = "PJSIP/"
)

// Handler runs a dispatched call. It is invoked on its own goroutine
// once the call's media session is up, and owns the call until it
// returns.
type Handler func(ctx context.Context, call *Call)

// Options configures a Network.
type Options struct {
	// App is the Stasis application name.
	App string

	// MediaHost is the address Asterisk sends RTP to. Defaults to
	// 127.0.0.1.
	MediaHost string

	// RecordDir, when set, records each call's outbound audio under
	// this directory.
	RecordDir string

	// FFmpegPath overrides the ffmpeg binary used for recording and
	// file playback.
	FFmpegPath string
}

// Network routes calls between the call-control system and registered
// handlers.
type Network struct {
	client ari.Client
	opts   Options

	mu       sync.Mutex
	inbound  map[string]Handler // dialed number -> handler
	outbound map[string]Handler // originated channel id -> handler
	playback map[string][]chan struct{}
	active   map[string]*Call
	stream   ari.EventStream
	cancel   context.CancelFunc
}

// NewNetwork creates a Network over the given client. Call Start to
// begin dispatching.
func NewNetwork(client ari.Client, opts Options) *Network {
	return &Network{
		client:   client,
		opts:     opts,
		inbound:  make(map[string]Handler),
		outbound: make(map[string]Handler),
		playback: make(map[string][]chan struct{}),
		active:   make(map[string]*Call),
	}
}

// Start clears any state left over from a previous run, subscribes to
// the application event stream and begins dispatching. It fails only
// when the subscription cannot be established.
func (n *Network) Start(ctx context.Context) error {
	n.clearStaleState(ctx)

	stream, err := n.client.Subscribe(ctx, n.opts.App)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.stream = stream
	n.cancel = cancel
	n.mu.Unlock()

	go n.run(runCtx, stream)
	slog.Info("phone: network started", "app", n.opts.App)
	return nil
}

// Stop ends dispatching, closes the event stream and tears down media
// for calls still in flight.
func (n *Network) Stop() {
	n.mu.Lock()
	stream := n.stream
	cancel := n.cancel
	n.stream = nil
	n.cancel = nil
	active := make([]*Call, 0, len(n.active))
	for _, call := range n.active {
		active = append(active, call)
	}
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		stream.Close()
	}
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	for _, call := range active {
		call.Media.Close()
	}

	// Sweep every bridge, not just those of calls still active. A call
	// that ended mid-run leaves its mixing bridge behind in Asterisk.
	bridges, err := n.client.Bridges(ctx)
	if err != nil {
		slog.Warn("phone: listing bridges failed", "error", err)
	}
	for _, b := range bridges {
		if err := n.client.DestroyBridge(ctx, b.ID); err != nil && !ari.IsNotFound(err) {
			slog.Warn("phone: destroying bridge failed", "bridge", b.ID, "error", err)
		}
	}
}

// clearStaleState hangs up channels and destroys bridges surviving
// from a crashed run. Asterisk keeps both alive across client
// restarts.
func (n *Network) clearStaleState(ctx context.Context) {
	bridges, err := n.client.Bridges(ctx)
	if err != nil {
		slog.Warn("phone: listing bridges failed", "error", err)
	}
	for _, b := range bridges {
		if err := n.client.DestroyBridge(ctx, b.ID); err != nil && !ari.IsNotFound(err) {
			slog.Warn("phone: destroying stale bridge failed", "bridge", b.ID, "error", err)
		}
	}

	channels, err := n.client.Channels(ctx)
	if err != nil {
		slog.Warn("phone: listing channels failed", "error", err)
	}
	for _, ch := range channels {
		if err := n.client.Hangup(ctx, ch.ID); err != nil && !ari.IsNotFound(err) {
			slog.Warn("phone: hanging up stale channel failed", "channel", ch.ID, "error", err)
		}
	}
}

// RegisterHandlerByNumber routes inbound calls dialed to number into
// handler. A later registration for the same number replaces the
// earlier one.
func (n *Network) RegisterHandlerByNumber(number string, handler Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inbound[number] = handler
}

// UnregisterHandlerByNumber removes the inbound route for number.
func (n *Network) UnregisterHandlerByNumber(number string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.inbound, number)
}

// MakeCall originates a call to number and blocks until the far end
// answers or the answer timeout passes. On answer the handler is
// started just as for an inbound call and MakeCall returns true; on
// timeout the pending registration is removed so a late answer cannot
// start the handler, and MakeCall returns false with no error.
func (n *Network) MakeCall(ctx context.Context, number string, handler Handler) (bool, error) {
	ch, err := n.client.Originate(ctx, ari.OriginateRequest{
		Endpoint:       endpointPrefix + number,
		App:            n.opts.App,
		AppArgs:        outgoingArg,
		TimeoutSeconds: int(answerTimeout / time.Second),
	})
	if err != nil {
		return false, err
	}

	answered := make(chan struct{})
	n.mu.Lock()
	n.outbound[ch.ID] = func(ctx context.Context, call *Call) {
		close(answered)
		handler(ctx, call)
	}
	n.mu.Unlock()

	timer := time.NewTimer(answerTimeout)
	defer timer.Stop()

	select {
	case <-answered:
		return true, nil
	case <-timer.C:
	case <-ctx.Done():
	}

	n.mu.Lock()
	_, pending := n.outbound[ch.ID]
	delete(n.outbound, ch.ID)
	n.mu.Unlock()

	if !pending {
		// The dispatcher claimed the registration between the timeout
		// firing and the lock; the handler is starting.
		<-answered
		return true, nil
	}

	if err := n.client.Hangup(ctx, ch.ID); err != nil && !ari.IsNotFound(err) {
		slog.Warn("phone: hanging up unanswered origination failed", "channel", ch.ID, "error", err)
	}
	slog.Info("phone: call not answered", "number", number)
	return false, ctx.Err()
}

// IsLineBusy reports whether the endpoint for number already has a
// connected channel.
func (n *Network) IsLineBusy(ctx context.Context, number string) (bool, error) {
	channels, err := n.client.Channels(ctx)
	if err != nil {
		return false, err
	}
	for _, ch := range channels {
		if ch.State == ari.ChannelStateUp && strings.HasPrefix(ch.Name, endpointPrefix+number) {
			return true, nil
		}
	}
	return false, nil
}

// WatchEnd returns a channel closed when channelID leaves the
// application. Watching a channel that already ended returns a closed
// channel.
func (n *Network) WatchEnd(channelID string) <-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if call, ok := n.active[channelID]; ok {
		return call.endCh
	}
	done := make(chan struct{})
	close(done)
	return done
}

func (n *Network) run(ctx context.Context, stream ari.EventStream) {
	for ev := range stream.Events() {
		switch ev.Type {
		case ari.EventStasisStart:
			n.handleStasisStart(ctx, ev)
		case ari.EventStasisEnd:
			n.handleStasisEnd(ev)
		case ari.EventPlaybackFinished:
			n.handlePlaybackFinished(ev)
		}
	}
	if err := stream.Err(); err != nil {
		slog.Error("phone: event stream failed", "error", err)
	}
}

func (n *Network) handleStasisStart(ctx context.Context, ev *ari.Event) {
	ch := ev.Channel
	if ch == nil {
		return
	}
	// External media and snoop legs enter the application too; they
	// belong to sessions we created, not to callers.
	if strings.Contains(ch.Name, "UnicastRTP") || strings.Contains(ch.Name, "Snoop") {
		return
	}

	if ev.Outbound() {
		n.mu.Lock()
		handler, ok := n.outbound[ch.ID]
		delete(n.outbound, ch.ID)
		n.mu.Unlock()
		if !ok {
			// Answered after MakeCall gave up.
			if err := n.client.Hangup(ctx, ch.ID); err != nil && !ari.IsNotFound(err) {
				slog.Warn("phone: hanging up late answer failed", "channel", ch.ID, "error", err)
			}
			return
		}
		n.startCall(ctx, ch, handler, true)
		return
	}

	number := ch.Dialplan.Exten
	n.mu.Lock()
	handler, ok := n.inbound[number]
	n.mu.Unlock()
	if !ok {
		slog.Info("phone: no handler for number", "number", number, "caller", ch.Caller.Number)
		go n.playNoService(ctx, ch)
		return
	}
	slog.Info("phone: inbound call", "number", number, "caller", ch.Caller.Number)
	n.startCall(ctx, ch, handler, false)
}

// startCall wires a media session to the channel and hands the call to
// its handler. A failed media setup drops this call only.
func (n *Network) startCall(ctx context.Context, ch *ari.Channel, handler Handler, outbound bool) {
	opts := media.Options{
		App:        n.opts.App,
		Host:       n.opts.MediaHost,
		FFmpegPath: n.opts.FFmpegPath,
	}
	if n.opts.RecordDir != "" {
		opts.RecordPath = filepath.Join(n.opts.RecordDir, ch.ID+".wav")
	}

	sess := media.NewSession(n.client, ch.ID, opts)
	if err := sess.Setup(ctx); err != nil {
		slog.Error("phone: media setup failed", "channel", ch.ID, "error", err)
		sess.Close()
		if err := n.client.Hangup(ctx, ch.ID); err != nil && !ari.IsNotFound(err) {
			slog.Warn("phone: hangup after failed setup failed", "channel", ch.ID, "error", err)
		}
		return
	}

	call := &Call{
		Channel:  ch,
		Media:    sess,
		outbound: outbound,
		network:  n,
		endCh:    make(chan struct{}),
	}
	n.mu.Lock()
	n.active[ch.ID] = call
	n.mu.Unlock()

	go handler(ctx, call)
}

func (n *Network) handleStasisEnd(ev *ari.Event) {
	if ev.Channel == nil {
		return
	}
	id := ev.Channel.ID

	n.mu.Lock()
	call := n.active[id]
	delete(n.active, id)
	n.mu.Unlock()

	if call != nil {
		close(call.endCh)
		call.Media.Close()
		if id := call.Media.BridgeID(); id != "" {
			ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := n.client.DestroyBridge(ctx, id); err != nil && !ari.IsNotFound(err) {
				slog.Warn("phone: destroying bridge failed", "bridge", id, "error", err)
			}
		}
	}
}

func (n *Network) handlePlaybackFinished(ev *ari.Event) {
	if ev.Playback == nil {
		return
	}
	n.mu.Lock()
	watchers := n.playback[ev.Playback.ID]
	delete(n.playback, ev.Playback.ID)
	n.mu.Unlock()
	for _, w := range watchers {
		close(w)
	}
}

func (n *Network) watchPlayback(playbackID string) <-chan struct{} {
	done := make(chan struct{})
	n.mu.Lock()
	n.playback[playbackID] = append(n.playback[playbackID], done)
	n.mu.Unlock()
	return done
}

// playNoService tells an unrouted caller that nothing lives at the
// number they dialed, then hangs up.
func (n *Network) playNoService(ctx context.Context, ch *ari.Channel) {
	if err := n.client.Answer(ctx, ch.ID); err != nil {
		slog.Warn("phone: answering unrouted call failed", "channel", ch.ID, "error", err)
	}

	pb, err := n.client.Play(ctx, ch.ID, noServiceSound)
	if err != nil {
		slog.Warn("phone: playing no-service failed", "channel", ch.ID, "error", err)
	} else {
		select {
		case <-n.watchPlayback(pb.ID):
		case <-time.After(10 * time.Second):
		case <-ctx.Done():
		}
	}

	if err := n.client.Hangup(ctx, ch.ID); err != nil && !ari.IsNotFound(err) {
		slog.Warn("phone: hanging up unrouted call failed", "channel", ch.ID, "error", err)
	}
}
