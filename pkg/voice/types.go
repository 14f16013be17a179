package voice

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// DefaultModel is the realtime model used when none is configured.
const DefaultModel = "gpt-4o-realtime-preview"

// Audio format identifiers.
const (
	// AudioFormatG711ULaw is G.711 µ-law at 8 kHz, the telephony
	// format used in both directions.
	AudioFormatG711ULaw = "g711_ulaw"
)

// Session protocol constants.
const (
	// turnDetectionType is server-side voice activity detection.
	turnDetectionType = "server_vad"

	// turnDetectionThreshold is the fixed VAD sensitivity.
	turnDetectionThreshold = 0.8

	// transcriptionModel transcribes caller audio for the transcript
	// events.
	transcriptionModel = "whisper-1"
)

// HangupToolName is the built-in tool every session carries; invoking
// it asks the orchestrator to end the call.
const HangupToolName = "hangup"

// Voice identifiers accepted by the backend.
const (
	VoiceAlloy   = "alloy"
	VoiceAsh     = "ash"
	VoiceEcho    = "echo"
	VoiceShimmer = "shimmer"
	VoiceVerse   = "verse"
)

// Tool declares one function the model may invoke during the call.
type Tool struct {
	// Name is the function name the model calls.
	Name string `json:"name"`

	// Description tells the model when to use the tool.
	Description string `json:"description"`

	// Parameters is the JSON schema of the arguments. Nil means a
	// no-argument tool.
	Parameters *jsonschema.Schema `json:"parameters,omitzero"`
}

// SessionConfig is the immutable per-call session configuration, sent
// once when the session is established.
type SessionConfig struct {
	// Instructions is the system prompt for this call.
	Instructions string

	// Voice selects the output voice.
	Voice string

	// Tools are the persona-specific tools; the built-in hangup tool
	// is prepended automatically.
	Tools []Tool
}

// ToolCall is a structured function invocation request from the model.
type ToolCall struct {
	// CallID correlates the eventual result with this invocation.
	CallID string `json:"call_id"`

	// Name is the invoked function.
	Name string `json:"name"`

	// Arguments is the raw JSON argument payload as produced by the
	// model. It may be malformed; consumers decide how tolerant to be.
	Arguments string `json:"arguments"`
}

// EventKind discriminates session events.
type EventKind int

const (
	// KindReady fires once the session configuration is acknowledged;
	// audio may flow from this point.
	KindReady EventKind = iota + 1

	// KindAudio carries one decoded µ-law audio chunk to play into
	// the call.
	KindAudio

	// KindTranscript carries partial or final speech-to-text of the
	// caller. Informational.
	KindTranscript

	// KindCharacterCutoff signals the caller started speaking while
	// the model was talking; queued outbound audio should be flushed.
	KindCharacterCutoff

	// KindToolCall carries a function invocation request.
	KindToolCall

	// KindDone signals the model finished a response.
	KindDone

	// KindError carries a backend-reported protocol error. The
	// session stays usable unless the connection itself failed.
	KindError
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindAudio:
		return "audio"
	case KindTranscript:
		return "transcript"
	case KindCharacterCutoff:
		return "character_cutoff"
	case KindToolCall:
		return "tool_call"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one translated backend event.
type Event struct {
	Kind EventKind

	// Audio is set for KindAudio.
	Audio []byte

	// Transcript and TranscriptFinal are set for KindTranscript.
	Transcript      string
	TranscriptFinal bool

	// ToolCall is set for KindToolCall.
	ToolCall *ToolCall

	// Err is set for KindError.
	Err *Error
}
