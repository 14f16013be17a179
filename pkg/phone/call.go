package phone

import (
	"context"

	"github.com/AustinMutschler/partyphone/pkg/ari"
	"github.com/AustinMutschler/partyphone/pkg/media"
)

// Call is one dispatched call leg with its media session attached.
type Call struct {
	// Channel is the telephony leg as seen at StasisStart.
	Channel *ari.Channel

	// Media carries audio to and from the caller.
	Media *media.Session

	outbound bool
	network  *Network
	endCh    chan struct{}
}

// Outbound reports whether this call was placed by MakeCall rather
// than dialed in.
func (c *Call) Outbound() bool {
	return c.outbound
}

// Number returns the dialed extension for inbound calls.
func (c *Call) Number() string {
	return c.Channel.Dialplan.Exten
}

// CallerNumber returns the calling party's number, if known.
func (c *Call) CallerNumber() string {
	return c.Channel.Caller.Number
}

// Answer answers the telephony leg.
func (c *Call) Answer(ctx context.Context) error {
	return c.network.client.Answer(ctx, c.Channel.ID)
}

// Hangup ends the call. A channel that already hung up reports not
// found, which callers normally ignore.
func (c *Call) Hangup(ctx context.Context) error {
	return c.network.client.Hangup(ctx, c.Channel.ID)
}

// End returns a channel closed when the telephony leg leaves the
// application.
func (c *Call) End() <-chan struct{} {
	return c.endCh
}

// Ended reports whether the telephony leg is already gone.
func (c *Call) Ended() bool {
	select {
	case <-c.endCh:
		return true
	default:
		return false
	}
}

// SendAudio queues µ-law audio for paced delivery to the caller.
func (c *Call) SendAudio(frame []byte) {
	c.Media.SendMedia(frame)
}

// ClearAudio drops all queued outbound audio.
func (c *Call) ClearAudio() {
	c.Media.ClearQueue()
}

// AudioQueueLen reports how many frames are waiting to be sent.
func (c *Call) AudioQueueLen() int {
	return c.Media.QueueLen()
}

// OnAudio registers the receiver for audio arriving from the caller.
func (c *Call) OnAudio(fn func(payload []byte)) {
	c.Media.OnAudio(fn)
}

// PlayFile streams an audio file to the caller at its native rate,
// bypassing the paced queue. It returns when playback finishes.
func (c *Call) PlayFile(ctx context.Context, path string) error {
	return c.Media.SendFile(ctx, path)
}
