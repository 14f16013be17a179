package persona

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/AustinMutschler/partyphone/pkg/phone"
	"github.com/AustinMutschler/partyphone/pkg/schedule"
	"github.com/AustinMutschler/partyphone/pkg/voice"
)

const (
	// preAnswerMin and preAnswerJitter bound the ring time before an
	// inbound call is picked up. Instant answering gives the game away.
	preAnswerMin    = 3 * time.Second
	preAnswerJitter = 2 * time.Second

	// drainPoll is how often the hangup path checks whether queued
	// farewell audio has finished playing.
	drainPoll = 250 * time.Millisecond
)

// Tool is a function the voice backend may call during a conversation.
// Handler receives the decoded arguments and its return value is
// reported back to the backend.
type Tool struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
	Handler     func(ctx context.Context, args json.RawMessage) (any, error)
}

// Config describes one persona.
type Config struct {
	// Name identifies the persona in logs and in the schedule store.
	Name string

	// InboundPrompt is the system prompt for calls dialed to the
	// persona's number. Scheduled calls carry their own prompt.
	InboundPrompt string

	// Voice is the backend voice name.
	Voice string

	// Number is the persona's own extension. Empty for personas that
	// only place scheduled calls.
	Number string

	// OutgoingNumber is the endpoint scheduled calls dial.
	OutgoingNumber string

	// Tools are offered to the backend on every call.
	Tools []Tool

	// Schedule seeds the persona's planned calls on first run.
	Schedule []schedule.Entry
}

// Call is the slice of a live call leg a persona drives.
type Call interface {
	Outbound() bool
	Answer(ctx context.Context) error
	Hangup(ctx context.Context) error
	End() <-chan struct{}
	SendAudio(frame []byte)
	ClearAudio()
	AudioQueueLen() int
	OnAudio(fn func(payload []byte))
	PlayFile(ctx context.Context, path string) error
}

// Conversation is the voice-backend session surface a persona drives.
// *voice.Session implements it.
type Conversation interface {
	Events() iter.Seq2[*voice.Event, error]
	SendAudio(frame []byte)
	InitiateAnswer()
	SendToolResult(call *voice.ToolCall, result any)
	Close()
}

// Dialer opens voice conversations.
type Dialer interface {
	Dial(ctx context.Context, config voice.SessionConfig) (Conversation, error)
}

// VoiceDialer adapts a voice.Client to the Dialer interface.
type VoiceDialer struct {
	Client *voice.Client
}

func (d VoiceDialer) Dial(ctx context.Context, config voice.SessionConfig) (Conversation, error) {
	sess, err := d.Client.Connect(ctx, config)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// network is the call-routing surface a persona needs.
type network interface {
	RegisterHandlerByNumber(number string, handler func(ctx context.Context, call Call))
	MakeCall(ctx context.Context, number string, handler func(ctx context.Context, call Call)) (bool, error)
	IsLineBusy(ctx context.Context, number string) (bool, error)
}

// phoneNetwork adapts *phone.Network to the network interface.
type phoneNetwork struct {
	n *phone.Network
}

func (a phoneNetwork) RegisterHandlerByNumber(number string, handler func(ctx context.Context, call Call)) {
	a.n.RegisterHandlerByNumber(number, func(ctx context.Context, c *phone.Call) {
		handler(ctx, c)
	})
}

func (a phoneNetwork) MakeCall(ctx context.Context, number string, handler func(ctx context.Context, call Call)) (bool, error) {
	return a.n.MakeCall(ctx, number, func(ctx context.Context, c *phone.Call) {
		handler(ctx, c)
	})
}

func (a phoneNetwork) IsLineBusy(ctx context.Context, number string) (bool, error) {
	return a.n.IsLineBusy(ctx, number)
}

// Persona is one AI character attached to the phone network.
type Persona struct {
	config Config
	dialer Dialer
	store  schedule.Store
	net    network

	mu            sync.Mutex
	state         CallState
	busy          bool
	lastCallEnded time.Time

	// Injected for tests.
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) bool
	answerDelay func() time.Duration
}

// New creates a persona. Attach wires it to a network.
func New(config Config, dialer Dialer, store schedule.Store) *Persona {
	return &Persona{
		config: config,
		dialer: dialer,
		store:  store,
		now:    time.Now,
		sleep:  sleepCtx,
		answerDelay: func() time.Duration {
			return preAnswerMin + rand.N(preAnswerJitter)
		},
	}
}

// State reports the persona's current call state.
func (p *Persona) State() CallState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Attach registers the persona's inbound number on the network and
// starts its schedule, if it has either. The context bounds all
// schedule processing and call handling.
func (p *Persona) Attach(ctx context.Context, n *phone.Network) {
	p.attach(ctx, phoneNetwork{n})
}

func (p *Persona) attach(ctx context.Context, net network) {
	p.net = net
	if p.config.Number != "" {
		net.RegisterHandlerByNumber(p.config.Number, func(ctx context.Context, call Call) {
			p.handleCall(ctx, call, p.config.InboundPrompt)
		})
	}
	if len(p.config.Schedule) > 0 {
		go p.runSchedule(ctx)
	}
}

// handleCall runs one call end to end: answer, open the voice
// conversation, shuttle audio and tool calls, and release the persona
// when the line drops.
func (p *Persona) handleCall(ctx context.Context, call Call, prompt string) {
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		slog.Info("persona: already on a call", "persona", p.config.Name)
		if err := call.Hangup(ctx); err != nil {
			slog.Debug("persona: hangup of second call", "error", err)
		}
		return
	}
	p.busy = true
	p.state = StateAnswering
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.busy = false
		p.state = StateIdle
		p.lastCallEnded = p.now()
		p.mu.Unlock()
	}()

	if !call.Outbound() {
		// Let it ring a while before picking up.
		if !p.sleepOrEnd(ctx, call, p.answerDelay()) {
			return
		}
		if err := call.Answer(ctx); err != nil {
			slog.Error("persona: answer failed", "persona", p.config.Name, "error", err)
			return
		}
	}

	conv, err := p.dialer.Dial(ctx, voice.SessionConfig{
		Instructions: prompt,
		Voice:        p.config.Voice,
		Tools:        p.voiceTools(),
	})
	if err != nil {
		slog.Error("persona: voice backend unavailable", "persona", p.config.Name, "error", err)
		if err := call.Hangup(ctx); err != nil {
			slog.Debug("persona: hangup after failed dial", "error", err)
		}
		return
	}
	defer conv.Close()

	p.mu.Lock()
	p.state = StateActive
	p.mu.Unlock()
	slog.Info("persona: call active", "persona", p.config.Name, "outbound", call.Outbound())

	// The far end hanging up is what normally ends the event loop.
	go func() {
		<-call.End()
		conv.Close()
	}()

	var hangupMu sync.Mutex
	hangupInProgress := false
	ready := false

	for ev, err := range conv.Events() {
		if err != nil {
			slog.Error("persona: conversation ended", "persona", p.config.Name, "error", err)
			break
		}
		switch ev.Kind {
		case voice.KindReady:
			// Config acknowledged. Only now is it safe to flow audio.
			if !ready {
				ready = true
				call.OnAudio(conv.SendAudio)
				if call.Outbound() {
					// The callee said hello; the persona speaks first.
					conv.InitiateAnswer()
				}
			}

		case voice.KindAudio:
			call.SendAudio(ev.Audio)

		case voice.KindCharacterCutoff:
			hangupMu.Lock()
			hanging := hangupInProgress
			hangupMu.Unlock()
			if !hanging {
				call.ClearAudio()
			}

		case voice.KindTranscript:
			if ev.TranscriptFinal {
				slog.Info("persona: caller said", "persona", p.config.Name, "transcript", ev.Transcript)
			}

		case voice.KindToolCall:
			if ev.ToolCall.Name == voice.HangupToolName {
				hangupMu.Lock()
				hangupInProgress = true
				hangupMu.Unlock()
				p.mu.Lock()
				p.state = StateCleanup
				p.mu.Unlock()
				go p.drainAndHangup(ctx, call, func() {
					hangupMu.Lock()
					hangupInProgress = false
					hangupMu.Unlock()
				})
				continue
			}
			p.runTool(ctx, conv, ev.ToolCall)

		case voice.KindError:
			slog.Error("persona: backend error", "persona", p.config.Name, "error", ev.Err)
		}
	}

	if err := call.Hangup(ctx); err != nil {
		slog.Debug("persona: final hangup", "error", err)
	}
	slog.Info("persona: call ended", "persona", p.config.Name)
}

// drainAndHangup lets queued farewell audio play out before dropping
// the line. drained is called once the queue is empty, so cutoff
// handling works again if the hangup fails and the call survives.
func (p *Persona) drainAndHangup(ctx context.Context, call Call, drained func()) {
	for call.AudioQueueLen() > 0 {
		select {
		case <-call.End():
			return
		default:
		}
		if !p.sleep(ctx, drainPoll) {
			return
		}
	}
	drained()
	if err := call.Hangup(ctx); err != nil {
		slog.Debug("persona: hangup after drain", "error", err)
	}
}

// runTool decodes a tool call's arguments, tolerating the malformed
// JSON backends sometimes emit, runs the handler and reports back.
func (p *Persona) runTool(ctx context.Context, conv Conversation, tc *voice.ToolCall) {
	tool, ok := p.tool(tc.Name)
	if !ok || tool.Handler == nil {
		slog.Warn("persona: unknown tool requested", "persona", p.config.Name, "tool", tc.Name)
		conv.SendToolResult(tc, map[string]any{"success": false, "error": "unknown tool"})
		return
	}

	args := json.RawMessage(tc.Arguments)
	if len(args) > 0 && !json.Valid(args) {
		if fixed, err := jsonrepair.JSONRepair(tc.Arguments); err == nil {
			args = json.RawMessage(fixed)
		}
	}

	result, err := tool.Handler(ctx, args)
	if err != nil {
		slog.Error("persona: tool failed", "persona", p.config.Name, "tool", tc.Name, "error", err)
		conv.SendToolResult(tc, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if result == nil {
		result = map[string]any{"success": true}
	}
	conv.SendToolResult(tc, result)
}

func (p *Persona) tool(name string) (Tool, bool) {
	for _, t := range p.config.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func (p *Persona) voiceTools() []voice.Tool {
	tools := make([]voice.Tool, 0, len(p.config.Tools))
	for _, t := range p.config.Tools {
		tools = append(tools, voice.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return tools
}

// sleepOrEnd waits d, returning false if the call or context ended
// first.
func (p *Persona) sleepOrEnd(ctx context.Context, call Call, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-call.End():
		return false
	case <-ctx.Done():
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
