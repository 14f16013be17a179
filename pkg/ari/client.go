package ari

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed client or stream.
var ErrClosed = errors.New("ari: closed")

// Client is the command and event surface of the call-control system.
type Client interface {
	// Answer answers an inbound channel.
	Answer(ctx context.Context, channelID string) error

	// Hangup hangs up a channel. Asterisk returns 404 if the channel is
	// already gone; callers in dispatch paths typically log and swallow
	// that.
	Hangup(ctx context.Context, channelID string) error

	// Play starts playback of a media URI (e.g. "sound:ss-noservice")
	// on a channel and returns the playback for completion tracking.
	Play(ctx context.Context, channelID, mediaURI string) (*Playback, error)

	// Originate creates a new outbound channel.
	Originate(ctx context.Context, req OriginateRequest) (*Channel, error)

	// CreateExternalMedia creates an RTP-backed media channel.
	CreateExternalMedia(ctx context.Context, req ExternalMediaRequest) (*Channel, error)

	// CreateBridge creates a bridge of the given type ("mixing").
	CreateBridge(ctx context.Context, bridgeType string) (*Bridge, error)

	// AddChannels places channels into a bridge.
	AddChannels(ctx context.Context, bridgeID string, channelIDs ...string) error

	// DestroyBridge tears a bridge down.
	DestroyBridge(ctx context.Context, bridgeID string) error

	// Channels lists all active channels.
	Channels(ctx context.Context) ([]Channel, error)

	// Bridges lists all bridges.
	Bridges(ctx context.Context) ([]Bridge, error)

	// Subscribe opens the application event stream. The stream stays
	// open until closed or the connection drops; it is not
	// auto-reconnected.
	Subscribe(ctx context.Context, app string) (EventStream, error)

	// Close releases the client. Safe to call more than once.
	Close() error
}

// EventStream is a live subscription to application events.
type EventStream interface {
	// Events returns the event channel. It is closed when the stream
	// ends; check Err afterwards to distinguish Close from failure.
	Events() <-chan *Event

	// Err reports why the stream ended, or nil after a clean Close.
	Err() error

	// Close ends the subscription.
	Close() error
}
