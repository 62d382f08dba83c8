package media

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newAudioTrack(t *testing.T) *LocalTrack {
	t.Helper()
	track, err := NewLocalTrack(KindAudio, "a1", "s1", "mic", "")
	if err != nil {
		t.Fatalf("NewLocalTrack failed: %v", err)
	}
	return track
}

func TestDisabledAudioDeliversSilence(t *testing.T) {
	track := newAudioTrack(t)

	var got []int16
	untap := track.Tap(func(f Frame) { got = f.PCM })

	track.Push(Frame{PCM: []int16{100, -100, 50}})
	if got[0] != 100 {
		t.Fatalf("Expected live samples, got %v", got)
	}

	track.SetEnabled(false)
	track.Push(Frame{PCM: []int16{100, -100, 50}})
	if len(got) != 3 || got[0] != 0 || got[1] != 0 || got[2] != 0 {
		t.Fatalf("Expected three zero samples, got %v", got)
	}

	untap()
	untap()
	got = nil
	track.Push(Frame{PCM: []int16{1}})
	if got != nil {
		t.Error("Tap should not fire after untap")
	}
}

func TestDisabledVideoDropsFrames(t *testing.T) {
	track, err := NewLocalTrack(KindVideo, "v1", "s1", "cam", "")
	if err != nil {
		t.Fatal(err)
	}

	var frames int
	track.Tap(func(Frame) { frames++ })
	track.Push(Frame{Data: []byte{1}})
	track.SetEnabled(false)
	track.Push(Frame{Data: []byte{2}})

	if frames != 1 {
		t.Errorf("Expected 1 frame, got %d", frames)
	}
}

func TestStopFiresOnEndedOnce(t *testing.T) {
	track := newAudioTrack(t)

	var stops, ended int
	track.Bind(func() { stops++ })
	track.OnEnded(func() { ended++ })

	track.Stop()
	track.Stop()

	if stops != 1 || ended != 1 {
		t.Errorf("Expected single stop and end, got %d/%d", stops, ended)
	}

	late := 0
	track.OnEnded(func() { late++ })
	if late != 1 {
		t.Error("OnEnded on a stopped track should run immediately")
	}
}

func TestStreamTracks(t *testing.T) {
	audio := newAudioTrack(t)
	video, _ := NewLocalTrack(KindVideo, "v1", "s1", "cam", "")
	stream := NewStream("s1", audio, video)

	stream.AddTrack(audio)
	if len(stream.Tracks()) != 2 {
		t.Fatalf("Duplicate AddTrack should be ignored")
	}

	next, _ := NewLocalTrack(KindVideo, "v2", "s1", "cam2", "")
	if !stream.ReplaceTrack(video, next) {
		t.Fatal("ReplaceTrack should find the old track")
	}
	if v := stream.VideoTracks(); len(v) != 1 || v[0] != next {
		t.Fatalf("Expected replacement video track, got %v", v)
	}
	if stream.RemoveTrack(video) {
		t.Error("Old track should already be gone")
	}
	if len(stream.LocalTracks()) != 2 {
		t.Error("Expected two local tracks")
	}

	stream.Stop()
	if !audio.Ended() || !next.Ended() {
		t.Error("Stop should end every track")
	}
}

func TestRemoteTrackDeliver(t *testing.T) {
	track := NewRemoteTrack("r1", KindAudio)
	var n int32
	track.Tap(func(Frame) { atomic.AddInt32(&n, 1) })

	track.Deliver(Frame{PCM: []int16{1}})
	track.Stop()
	track.Deliver(Frame{PCM: []int16{1}})

	if atomic.LoadInt32(&n) != 1 {
		t.Errorf("Expected delivery to stop after Stop, got %d", n)
	}
}

func TestSyntheticDevices(t *testing.T) {
	mock := clock.NewMock()
	devices := NewFileDevices(FileDevicesConfig{Clock: mock})

	infos, err := devices.Enumerate(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected synthetic camera and microphone, got %+v", infos)
	}

	stream, err := devices.UserMedia(context.Background(), Constraints{Audio: true, Video: true})
	if err != nil {
		t.Fatalf("UserMedia failed: %v", err)
	}
	defer stream.Stop()

	if len(stream.AudioTracks()) != 1 || len(stream.VideoTracks()) != 1 {
		t.Fatalf("Expected one audio and one video track")
	}

	frames := make(chan Frame, 8)
	stream.AudioTracks()[0].Tap(func(f Frame) {
		select {
		case frames <- f:
		default:
		}
	})

	deadline := time.After(2 * time.Second)
	for {
		mock.Add(FrameDuration)
		select {
		case f := <-frames:
			if len(f.PCM) != FrameSamples {
				t.Fatalf("Expected %d samples, got %d", FrameSamples, len(f.PCM))
			}
			return
		case <-deadline:
			t.Fatal("Silent microphone produced no frames")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestUnknownDevice(t *testing.T) {
	devices := NewFileDevices(FileDevicesConfig{Clock: clock.NewMock()})

	_, err := devices.UserMedia(context.Background(), Constraints{Video: true, VideoDeviceID: "nope"})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Expected ErrDeviceNotFound, got %v", err)
	}

	_, err = devices.DisplayMedia(context.Background())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Expected ErrDeviceNotFound for missing screen, got %v", err)
	}
}

func TestMissingFileIsDeviceNotFound(t *testing.T) {
	devices := NewFileDevices(FileDevicesConfig{
		Cameras: []FileSource{{Path: filepath.Join(t.TempDir(), "missing.ivf")}},
		Clock:   clock.NewMock(),
	})
	_, err := devices.UserMedia(context.Background(), Constraints{Video: true})
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Expected ErrDeviceNotFound, got %v", err)
	}
}

func writeIVF(t *testing.T, frames int) string {
	t.Helper()

	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:], 64)
	binary.LittleEndian.PutUint16(header[14:], 48)
	binary.LittleEndian.PutUint32(header[16:], 30)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(frames))

	data := header
	for i := 0; i < frames; i++ {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], 4)
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))
		data = append(data, fh...)
		data = append(data, 0x10, 0x02, 0x00, byte(i))
	}

	path := filepath.Join(t.TempDir(), "screen.ivf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScreenCaptureEndsAtEOF(t *testing.T) {
	mock := clock.NewMock()
	devices := NewFileDevices(FileDevicesConfig{Screen: writeIVF(t, 2), Clock: mock})

	stream, err := devices.DisplayMedia(context.Background())
	if err != nil {
		t.Fatalf("DisplayMedia failed: %v", err)
	}

	var frames int32
	ended := make(chan struct{})
	track := stream.VideoTracks()[0]
	track.Tap(func(Frame) { atomic.AddInt32(&frames, 1) })
	track.OnEnded(func() { close(ended) })

	deadline := time.After(2 * time.Second)
	for {
		mock.Add(time.Second / 30)
		select {
		case <-ended:
			if got := atomic.LoadInt32(&frames); got != 2 {
				t.Errorf("Expected 2 frames before EOF, got %d", got)
			}
			return
		case <-deadline:
			t.Fatal("Display capture did not end at EOF")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
