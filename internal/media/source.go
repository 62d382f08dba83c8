package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

var fourCCMime = map[string]string{
	"VP80": webrtc.MimeTypeVP8,
	"VP90": webrtc.MimeTypeVP9,
	"AV01": webrtc.MimeTypeAV1,
}

// stopper closes done once, however often the track is stopped.
func stopper() (done chan struct{}, stop func()) {
	done = make(chan struct{})
	var once sync.Once
	return done, func() { once.Do(func() { close(done) }) }
}

// openIVF starts a paced video producer. With loop set the file restarts at
// EOF; otherwise the track ends, like a closed capture window.
func openIVF(src FileSource, streamID string, loop bool, clk clock.Clock, logger *slog.Logger) (*LocalTrack, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, openError(src.Path, err)
	}

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ivf header %s: %w", src.Path, err)
	}
	mime, ok := fourCCMime[header.FourCC]
	if !ok {
		f.Close()
		return nil, fmt.Errorf("unsupported ivf codec %q in %s", header.FourCC, src.Path)
	}

	track, err := NewLocalTrack(KindVideo, uuid.NewString(), streamID, src.ID, mime)
	if err != nil {
		f.Close()
		return nil, err
	}

	interval := time.Second / 30
	if header.TimebaseDenominator > 0 && header.TimebaseNumerator > 0 {
		interval = time.Duration(header.TimebaseNumerator) * time.Second / time.Duration(header.TimebaseDenominator)
	}

	done, stop := stopper()
	track.Bind(stop)

	go func() {
		defer f.Close()
		ticker := clk.Ticker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) && loop {
				if _, err = f.Seek(0, io.SeekStart); err == nil {
					reader, _, err = ivfreader.NewWith(f)
				}
				if err == nil {
					continue
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Warn("Video source failed", "path", src.Path, "error", err)
				}
				track.Stop()
				return
			}

			if err := track.Push(Frame{Data: frame, Duration: interval}); err != nil {
				logger.Debug("Video write failed", "error", err)
			}
		}
	}()

	return track, nil
}

// openOgg starts a looping microphone producer decoding Ogg/Opus pages.
func openOgg(src FileSource, streamID string, clk clock.Clock, logger *slog.Logger) (*LocalTrack, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, openError(src.Path, err)
	}

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read ogg header %s: %w", src.Path, err)
	}

	dec, err := NewOpusDecoder()
	if err != nil {
		f.Close()
		return nil, err
	}

	track, err := NewLocalTrack(KindAudio, uuid.NewString(), streamID, src.ID, "")
	if err != nil {
		f.Close()
		return nil, err
	}

	done, stop := stopper()
	track.Bind(stop)

	go func() {
		defer f.Close()
		ticker := clk.Ticker(FrameDuration)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			page, _, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				if _, err = f.Seek(0, io.SeekStart); err == nil {
					reader, _, err = oggreader.NewWith(f)
				}
				if err == nil {
					continue
				}
			}
			if err != nil {
				logger.Warn("Audio source failed", "path", src.Path, "error", err)
				track.Stop()
				return
			}
			if bytes.HasPrefix(page, []byte("OpusTags")) {
				continue
			}

			pcm, err := dec.Decode(page)
			if err != nil {
				continue
			}
			_ = track.Push(Frame{PCM: pcm, Duration: FrameDuration})
		}
	}()

	return track, nil
}

// startSilence produces zeroed PCM frames at the frame rate.
func startSilence(deviceID, streamID string, clk clock.Clock) (*LocalTrack, error) {
	track, err := NewLocalTrack(KindAudio, uuid.NewString(), streamID, deviceID, "")
	if err != nil {
		return nil, err
	}

	done, stop := stopper()
	track.Bind(stop)

	go func() {
		ticker := clk.Ticker(FrameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = track.Push(Frame{PCM: make([]int16, FrameSamples), Duration: FrameDuration})
			}
		}
	}()

	return track, nil
}
