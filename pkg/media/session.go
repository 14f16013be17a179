package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/AustinMutschler/partyphone/pkg/ari"
)

// preBufferFrames is how many frames must be queued before the paced
// sender starts. Pre-buffering absorbs scheduling jitter at the start
// of a talkspurt.
const preBufferFrames = 3

// uniportVar is the channel variable Asterisk sets on an external
// media channel with the port it listens on for our RTP.
const uniportVar = "UNICASTRTP_LOCAL_PORT"

// ErrSessionClosed is returned by Setup on a closed session.
var ErrSessionClosed = errors.New("media: session closed")

// Options configures a Session.
type Options struct {
	// App is the Stasis application name used for the external media
	// channel.
	App string

	// Host is the local address both sockets bind to and the address
	// advertised to Asterisk. Defaults to 127.0.0.1.
	Host string

	// RecordPath, when set, starts a recording transcoder at
	// construction; audio received by OnAudio is written to this
	// file as WAV.
	RecordPath string

	// FFmpegPath overrides the ffmpeg binary used for SendFile and
	// recording. Defaults to "ffmpeg".
	FFmpegPath string
}

func (o *Options) host() string {
	if o.Host == "" {
		return "127.0.0.1"
	}
	return o.Host
}

func (o *Options) ffmpeg() string {
	if o.FFmpegPath == "" {
		return "ffmpeg"
	}
	return o.FFmpegPath
}

// Session is the per-call audio bridge between one call leg and a pair
// of RTP streams.
type Session struct {
	client    ari.Client
	channelID string
	opts      Options

	recvConn *net.UDPConn // Asterisk -> us
	sendConn *net.UDPConn // us -> Asterisk
	destAddr *net.UDPAddr

	mediaChannelID string
	bridgeID       string

	pkt packetizer

	rec *recorder

	mu      sync.Mutex
	queue   [][]byte
	sending bool
	closed  bool
}

// NewSession creates a session for an answered call leg. Call Setup
// before routing any audio.
func NewSession(client ari.Client, channelID string, opts Options) *Session {
	s := &Session{
		client:    client,
		channelID: channelID,
		opts:      opts,
		pkt:       newPacketizer(),
	}
	if opts.RecordPath != "" {
		rec, err := startRecorder(opts.ffmpeg(), opts.RecordPath)
		if err != nil {
			slog.Error("media: recording transcoder failed to start", "error", err)
		} else {
			s.rec = rec
		}
	}
	return s
}

// Setup binds the local sockets, asks Asterisk to create the external
// media leg pointed at the receive socket, reads back the transmit
// port, and bridges the call leg with the media leg. The session must
// not be used for audio if Setup fails.
func (s *Session) Setup(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	host := s.opts.host()
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("media: invalid host %q", host)
	}

	recvConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip})
	if err != nil {
		return fmt.Errorf("media: bind receive socket: %w", err)
	}
	sendConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip})
	if err != nil {
		recvConn.Close()
		return fmt.Errorf("media: bind send socket: %w", err)
	}

	recvPort := recvConn.LocalAddr().(*net.UDPAddr).Port
	mediaCh, err := s.client.CreateExternalMedia(ctx, ari.ExternalMediaRequest{
		App:          s.opts.App,
		ExternalHost: net.JoinHostPort(host, strconv.Itoa(recvPort)),
		Format:       "ulaw",
	})
	if err != nil {
		recvConn.Close()
		sendConn.Close()
		return fmt.Errorf("media: create external media leg: %w", err)
	}

	portStr := mediaCh.Channelvars[uniportVar]
	destPort, err := strconv.Atoi(portStr)
	if err != nil {
		recvConn.Close()
		sendConn.Close()
		return fmt.Errorf("media: external media channel reported port %q: %w", portStr, err)
	}

	bridge, err := s.client.CreateBridge(ctx, "mixing")
	if err != nil {
		recvConn.Close()
		sendConn.Close()
		return fmt.Errorf("media: create bridge: %w", err)
	}
	if err := s.client.AddChannels(ctx, bridge.ID, s.channelID, mediaCh.ID); err != nil {
		recvConn.Close()
		sendConn.Close()
		return fmt.Errorf("media: bridge channels: %w", err)
	}

	s.mu.Lock()
	s.recvConn = recvConn
	s.sendConn = sendConn
	s.destAddr = &net.UDPAddr{IP: ip, Port: destPort}
	s.mediaChannelID = mediaCh.ID
	s.bridgeID = bridge.ID
	s.mu.Unlock()

	slog.Debug("media: session ready",
		"channel", s.channelID,
		"recv_port", recvPort,
		"dest_port", destPort,
		"bridge", bridge.ID)
	return nil
}

// BridgeID returns the bridge created by Setup, or "" before Setup.
func (s *Session) BridgeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridgeID
}

// SendMedia chunks buf into 20 ms frames and queues them for paced
// transmission. The sender starts once enough frames are buffered and
// stops on its own when the queue drains; the next SendMedia after a
// drain opens a new talkspurt.
func (s *Session) SendMedia(buf []byte) {
	if len(buf) == 0 {
		return
	}
	frames := chunkFrames(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, frames...)
	if !s.sending && len(s.queue) >= preBufferFrames {
		s.sending = true
		go s.runSender()
	}
}

// QueueLen reports how many frames are waiting to be sent.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ClearQueue drops all pending outbound frames. Used when the far end
// starts speaking over queued audio.
func (s *Session) ClearQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

// runSender transmits one frame per tick until the queue drains. It
// owns the packetizer while running; SendMedia never starts a second
// sender while one is live.
func (s *Session) runSender() {
	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	marker := true
	for range ticker.C {
		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.sending = false
			s.mu.Unlock()
			return
		}
		frame := s.queue[0]
		s.queue = s.queue[1:]
		conn := s.sendConn
		dest := s.destAddr
		s.mu.Unlock()

		data, err := s.pkt.packet(frame, marker)
		marker = false
		if err != nil {
			slog.Error("media: build packet", "error", err)
			continue
		}
		if conn == nil || dest == nil {
			continue
		}
		if _, err := conn.WriteToUDP(data, dest); err != nil {
			slog.Error("media: send", "error", err)
		}
	}
}

// OnAudio starts the receive loop, delivering each datagram's payload
// (RTP header stripped) to fn in arrival order. fn runs on the receive
// goroutine; it must not block on the session's own lock for long.
func (s *Session) OnAudio(fn func(payload []byte)) {
	s.mu.Lock()
	conn := s.recvConn
	s.mu.Unlock()
	if conn == nil {
		slog.Error("media: OnAudio before Setup", "channel", s.channelID)
		return
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				// Socket closed by Close; the recorder's input ends
				// with it.
				if s.rec != nil {
					s.rec.closeInput()
				}
				return
			}
			off := payloadOffset(buf[:n])
			if off >= n {
				continue
			}
			payload := make([]byte, n-off)
			copy(payload, buf[off:n])
			s.RecordToFile(payload)
			fn(payload)
		}
	}()
}

// RecordToFile forwards one inbound payload to the recording
// transcoder. No-op when recording is not configured.
func (s *Session) RecordToFile(payload []byte) {
	if s.rec == nil {
		return
	}
	s.rec.write(payload)
}

// SendFile streams an audio file to the transmit port at its native
// playback rate via a real-time transcoder, bypassing the paced queue.
// It returns when the transcode finishes.
func (s *Session) SendFile(ctx context.Context, path string) error {
	s.mu.Lock()
	dest := s.destAddr
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if dest == nil {
		return errors.New("media: SendFile before Setup")
	}
	return streamFile(ctx, s.opts.ffmpeg(), path, dest)
}

// Close clears the queue and closes both sockets. Safe to call more
// than once; close errors are logged, not returned.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	recvConn := s.recvConn
	sendConn := s.sendConn
	s.mu.Unlock()

	if recvConn != nil {
		if err := recvConn.Close(); err != nil {
			slog.Debug("media: close receive socket", "error", err)
		}
	}
	if sendConn != nil {
		if err := sendConn.Close(); err != nil {
			slog.Debug("media: close send socket", "error", err)
		}
	}
	if s.rec != nil {
		s.rec.closeInput()
	}
}
