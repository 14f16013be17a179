package ari

// Event types delivered over the application WebSocket.
const (
	// EventStasisStart fires when a channel enters the application:
	// inbound calls, answered originations, and external media legs.
	EventStasisStart = "StasisStart"

	// EventStasisEnd fires when a channel leaves the application,
	// normally because the call hung up.
	EventStasisEnd = "StasisEnd"

	// EventPlaybackFinished fires when a Play operation completes.
	EventPlaybackFinished = "PlaybackFinished"

	// EventChannelStateChange fires on channel state transitions.
	EventChannelStateChange = "ChannelStateChange"
)

// Event is one message from the ARI event WebSocket. A single struct
// with a Type discriminator; fields are populated per event type.
type Event struct {
	// Type is the ARI event type.
	Type string `json:"type"`

	// Application is the Stasis application name.
	Application string `json:"application,omitzero"`

	// Timestamp is the event time as reported by Asterisk.
	Timestamp string `json:"timestamp,omitzero"`

	// Channel is set for StasisStart, StasisEnd and ChannelStateChange.
	Channel *Channel `json:"channel,omitzero"`

	// Args are the application arguments (for StasisStart).
	Args []string `json:"args,omitzero"`

	// Playback is set for PlaybackFinished.
	Playback *Playback `json:"playback,omitzero"`

	// Raw is the original JSON message.
	Raw []byte `json:"-"`
}

// Outbound reports whether a StasisStart event belongs to a call this
// application originated. Originations carry "outgoing" as their first
// application argument.
func (e *Event) Outbound() bool {
	return len(e.Args) > 0 && e.Args[0] == "outgoing"
}
