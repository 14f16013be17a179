package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Wire message types used on this session.
const (
	msgSessionUpdate          = "session.update"
	msgInputAudioAppend       = "input_audio_buffer.append"
	msgInputAudioCommit       = "input_audio_buffer.commit"
	msgResponseCreate         = "response.create"
	msgConversationItemCreate = "conversation.item.create"

	evtSessionCreated       = "session.created"
	evtSessionUpdated       = "session.updated"
	evtAudioDelta           = "response.audio.delta"
	evtTranscriptDelta      = "conversation.item.input_audio_transcription.delta"
	evtTranscriptCompleted  = "conversation.item.input_audio_transcription.completed"
	evtSpeechStarted        = "input_audio_buffer.speech_started"
	evtResponseDone         = "response.done"
	evtFunctionCallArgsDone = "response.function_call_arguments.done"
	evtError                = "error"
)

// serverMessage is the union of wire fields this session reads.
type serverMessage struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitzero"`
	Transcript string `json:"transcript,omitzero"`
	CallID     string `json:"call_id,omitzero"`
	Name       string `json:"name,omitzero"`
	Arguments  string `json:"arguments,omitzero"`
	Error      *Error `json:"error,omitzero"`
}

type eventOrError struct {
	event *Event
	err   error
}

// Session is one live realtime connection for one call.
type Session struct {
	conn   *websocket.Conn
	config SessionConfig

	closeCh   chan struct{}
	eventsCh  chan eventOrError
	closeOnce sync.Once

	writeMu sync.Mutex
}

func newSession(conn *websocket.Conn, config SessionConfig) *Session {
	return &Session{
		conn:     conn,
		config:   config,
		closeCh:  make(chan struct{}),
		eventsCh: make(chan eventOrError, 100),
	}
}

func generateEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

// configure sends the one-time session configuration: codec, voice,
// instructions, tool declarations (hangup first), turn detection, and
// transcription model.
func (s *Session) configure() error {
	tools := make([]map[string]any, 0, len(s.config.Tools)+1)
	hangup := Tool{
		Name:        HangupToolName,
		Description: "Hangs up the phone.",
	}
	for _, t := range append([]Tool{hangup}, s.config.Tools...) {
		decl := map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
		}
		if t.Parameters != nil {
			decl["parameters"] = t.Parameters
		} else {
			decl["parameters"] = map[string]any{}
		}
		tools = append(tools, decl)
	}

	session := map[string]any{
		"input_audio_format":  AudioFormatG711ULaw,
		"output_audio_format": AudioFormatG711ULaw,
		"turn_detection": map[string]any{
			"type":      turnDetectionType,
			"threshold": turnDetectionThreshold,
		},
		"input_audio_transcription": map[string]any{
			"model": transcriptionModel,
		},
		"tools":       tools,
		"tool_choice": "auto",
	}
	if s.config.Instructions != "" {
		session["instructions"] = s.config.Instructions
	}
	if s.config.Voice != "" {
		session["voice"] = s.config.Voice
	}

	return s.writeJSON(map[string]any{
		"event_id": generateEventID(),
		"type":     msgSessionUpdate,
		"session":  session,
	})
}

// SendAudio appends one µ-law frame to the backend's input buffer.
// No-op after close.
func (s *Session) SendAudio(frame []byte) {
	s.send(map[string]any{
		"event_id": generateEventID(),
		"type":     msgInputAudioAppend,
		"audio":    base64.StdEncoding.EncodeToString(frame),
	})
}

// CommitUserAudio finalizes the current input turn.
func (s *Session) CommitUserAudio() {
	s.send(map[string]any{
		"event_id": generateEventID(),
		"type":     msgInputAudioCommit,
	})
}

// InitiateAnswer asks the model to speak proactively, using the
// session instructions. Used when the persona must talk first.
func (s *Session) InitiateAnswer() {
	response := map[string]any{
		"modalities": []string{"audio", "text"},
	}
	if s.config.Instructions != "" {
		response["instructions"] = s.config.Instructions
	}
	s.send(map[string]any{
		"event_id": generateEventID(),
		"type":     msgResponseCreate,
		"response": response,
	})
}

// SendToolResult relays a tool's result for the given call and
// immediately requests the model's next response.
func (s *Session) SendToolResult(call *ToolCall, result any) {
	output, err := json.Marshal(result)
	if err != nil {
		slog.Warn("voice: encode tool result", "tool", call.Name, "error", err)
		output = []byte("null")
	}
	s.send(map[string]any{
		"event_id": generateEventID(),
		"type":     msgConversationItemCreate,
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": call.CallID,
			"output":  string(output),
		},
	})
	s.send(map[string]any{
		"event_id": generateEventID(),
		"type":     msgResponseCreate,
	})
}

// Close tears the connection down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		if err := s.conn.Close(); err != nil {
			slog.Debug("voice: close connection", "error", err)
		}
	})
}

// Events iterates the session's translated events. Iteration ends when
// the session closes or the connection fails; a connection failure is
// yielded as the final non-nil error.
func (s *Session) Events() iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		for {
			select {
			case <-s.closeCh:
				return
			case item, ok := <-s.eventsCh:
				if !ok {
					return
				}
				if !yield(item.event, item.err) {
					return
				}
				if item.err != nil {
					return
				}
			}
		}
	}
}

// send is the fire-and-forget write path: failures (including writes
// after close) are logged, never returned.
func (s *Session) send(msg map[string]any) {
	select {
	case <-s.closeCh:
		return
	default:
	}
	if err := s.writeJSON(msg); err != nil {
		slog.Debug("voice: send", "type", msg["type"], "error", err)
	}
}

func (s *Session) writeJSON(msg map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

// emit hands an event (or terminal error) to the consumer, dropping it
// if the session closed concurrently.
func (s *Session) emit(item eventOrError) bool {
	select {
	case <-s.closeCh:
		return false
	case s.eventsCh <- item:
		return true
	}
}

// readLoop reads backend messages and translates them into Events.
func (s *Session) readLoop() {
	defer close(s.eventsCh)

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		_, message, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeCh:
				// Closed locally; not a failure.
			default:
				s.emit(eventOrError{err: fmt.Errorf("voice: read: %w", err)})
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.emit(eventOrError{event: &Event{
				Kind: KindError,
				Err:  &Error{Code: "parse_error", Message: err.Error()},
			}})
			continue
		}

		if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
			slog.Debug("voice: message", "type", msg.Type, "len", len(message))
		}

		switch msg.Type {
		case evtSessionUpdated:
			if !s.emit(eventOrError{event: &Event{Kind: KindReady}}) {
				return
			}

		case evtAudioDelta:
			audio, err := base64.StdEncoding.DecodeString(msg.Delta)
			if err != nil {
				slog.Warn("voice: undecodable audio delta", "error", err)
				continue
			}
			if !s.emit(eventOrError{event: &Event{Kind: KindAudio, Audio: audio}}) {
				return
			}

		case evtTranscriptDelta:
			if !s.emit(eventOrError{event: &Event{
				Kind:       KindTranscript,
				Transcript: msg.Delta,
			}}) {
				return
			}

		case evtTranscriptCompleted:
			if !s.emit(eventOrError{event: &Event{
				Kind:            KindTranscript,
				Transcript:      msg.Transcript,
				TranscriptFinal: true,
			}}) {
				return
			}

		case evtSpeechStarted:
			if !s.emit(eventOrError{event: &Event{Kind: KindCharacterCutoff}}) {
				return
			}

		case evtFunctionCallArgsDone:
			if !s.emit(eventOrError{event: &Event{
				Kind: KindToolCall,
				ToolCall: &ToolCall{
					CallID:    msg.CallID,
					Name:      msg.Name,
					Arguments: msg.Arguments,
				},
			}}) {
				return
			}

		case evtResponseDone:
			if !s.emit(eventOrError{event: &Event{Kind: KindDone}}) {
				return
			}

		case evtError:
			e := msg.Error
			if e == nil {
				e = &Error{Message: "unknown backend error"}
			}
			slog.Error("voice: backend error", "code", e.Code, "message", e.Message)
			if !s.emit(eventOrError{event: &Event{Kind: KindError, Err: e}}) {
				return
			}

		case evtSessionCreated:
			// Configuration was already sent; nothing to do.

		default:
			slog.Debug("voice: ignoring message", "type", msg.Type)
		}
	}
}
