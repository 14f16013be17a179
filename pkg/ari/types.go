package ari

// Caller identifies the calling party of a channel.
type Caller struct {
	Name   string `json:"name,omitzero"`
	Number string `json:"number,omitzero"`
}

// Dialplan describes where a channel currently sits in the dialplan.
// Exten is the dialed number for calls entering the application.
type Dialplan struct {
	Context  string `json:"context,omitzero"`
	Exten    string `json:"exten,omitzero"`
	Priority int64  `json:"priority,omitzero"`
}

// Channel is one call leg tracked by Asterisk.
type Channel struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitzero"`
	State    string   `json:"state,omitzero"`
	Caller   Caller   `json:"caller,omitzero"`
	Dialplan Dialplan `json:"dialplan,omitzero"`

	// Channelvars holds channel variables requested at creation time.
	// External media channels report UNICASTRTP_LOCAL_PORT here.
	Channelvars map[string]string `json:"channelvars,omitzero"`
}

// ChannelStateUp is the state of an answered, connected channel.
const ChannelStateUp = "Up"

// Bridge is a mixing construct joining two or more channels.
type Bridge struct {
	ID       string   `json:"id"`
	Type     string   `json:"bridge_type,omitzero"`
	Channels []string `json:"channels,omitzero"`
}

// Playback is a media playback operation on a channel.
type Playback struct {
	ID       string `json:"id"`
	MediaURI string `json:"media_uri,omitzero"`
	State    string `json:"state,omitzero"`
}

// OriginateRequest creates a new outbound channel that enters the given
// Stasis application when answered.
type OriginateRequest struct {
	// Endpoint is the dial target, e.g. "PJSIP/1000".
	Endpoint string

	// App is the Stasis application name.
	App string

	// AppArgs are passed to the application's StasisStart event.
	AppArgs string

	// Context is the dialplan context for the new channel.
	Context string

	// TimeoutSeconds is how long Asterisk lets the endpoint ring.
	// Zero means the ARI default.
	TimeoutSeconds int

	// Variables are set on the new channel.
	Variables map[string]string
}

// ExternalMediaRequest creates a channel whose audio is carried over RTP
// to and from the given host instead of a telephony endpoint.
type ExternalMediaRequest struct {
	// App is the Stasis application name.
	App string

	// ExternalHost is "host:port" where Asterisk sends RTP.
	ExternalHost string

	// Format is the audio codec, e.g. "ulaw".
	Format string

	// Direction is "both" unless Asterisk should only send or receive.
	Direction string
}
