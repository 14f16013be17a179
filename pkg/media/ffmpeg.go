package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"sync"
)

// recorder is an ffmpeg process transcoding raw inbound µ-law into a
// WAV file. It is started at session construction and fed one payload
// at a time; closing its input lets ffmpeg finalize the file.
type recorder struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	closeOnce sync.Once
	mu        sync.Mutex
}

func startRecorder(ffmpegPath, outPath string) (*recorder, error) {
	cmd := exec.Command(ffmpegPath,
		"-hide_banner",
		"-f", "mulaw",
		"-ar", "8000",
		"-ac", "1",
		"-i", "pipe:0",
		"-y",
		outPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("media: recorder stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("media: start recorder: %w", err)
	}
	return &recorder{cmd: cmd, stdin: stdin}, nil
}

func (r *recorder) write(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.stdin.Write(payload); err != nil {
		slog.Debug("media: recorder write", "error", err)
	}
}

// closeInput ends the recording; ffmpeg exits once stdin closes.
func (r *recorder) closeInput() {
	r.closeOnce.Do(func() {
		r.stdin.Close()
		go func() {
			if err := r.cmd.Wait(); err != nil {
				slog.Debug("media: recorder exited", "error", err)
			}
		}()
	})
}

// streamFile plays an audio file onto the RTP destination at its
// native rate. ffmpeg handles the decode, the µ-law transcode, and the
// real-time RTP packetization; the paced queue is not involved.
func streamFile(ctx context.Context, ffmpegPath, path string, dest *net.UDPAddr) error {
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner",
		"-re",
		"-i", path,
		"-acodec", "pcm_mulaw",
		"-ar", "8000",
		"-ac", "1",
		"-f", "rtp",
		"-payload_type", "0",
		fmt.Sprintf("rtp://%s", dest),
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("media: stream %s: %w", path, err)
	}
	slog.Debug("media: finished streaming file", "path", path, "dest", dest.String())
	return nil
}
