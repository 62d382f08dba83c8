package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

var (
	ErrPermissionDenied = errors.New("media: permission denied")
	ErrDeviceNotFound   = errors.New("media: device not found")
)

// DeviceInfo describes one capture device.
type DeviceInfo struct {
	ID      string
	Label   string
	Kind    Kind
	Display bool
}

// Constraints selects what UserMedia captures. Empty device ids pick the
// default device of that kind.
type Constraints struct {
	Audio         bool
	Video         bool
	AudioDeviceID string
	VideoDeviceID string
}

// Devices is the capture backend.
type Devices interface {
	UserMedia(ctx context.Context, c Constraints) (*Stream, error)
	DisplayMedia(ctx context.Context) (*Stream, error)
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
}

// FileSource maps a device id onto a media file.
type FileSource struct {
	ID    string
	Label string
	Path  string
}

// FileDevicesConfig lists the files backing each device. Cameras and the
// screen read IVF, microphones read Ogg/Opus.
type FileDevicesConfig struct {
	Cameras     []FileSource
	Microphones []FileSource
	Screen      string
	Clock       clock.Clock
	Logger      *slog.Logger
}

const (
	syntheticCameraID = "synthetic-camera"
	syntheticMicID    = "synthetic-mic"
	screenID          = "screen"
)

// FileDevices captures from media files, falling back to a blank camera
// and a silent microphone when none are configured.
type FileDevices struct {
	cameras     []FileSource
	microphones []FileSource
	screen      string
	clock       clock.Clock
	logger      *slog.Logger
}

// NewFileDevices creates file-backed capture devices, falling back to
// synthetic ones for kinds without files.
func NewFileDevices(cfg FileDevicesConfig) *FileDevices {
	d := &FileDevices{
		cameras:     withLabels(cfg.Cameras, "camera"),
		microphones: withLabels(cfg.Microphones, "mic"),
		screen:      cfg.Screen,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	}
	if d.clock == nil {
		d.clock = clock.New()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "devices")
	if len(d.cameras) == 0 {
		d.cameras = []FileSource{{ID: syntheticCameraID, Label: "Blank camera"}}
	}
	if len(d.microphones) == 0 {
		d.microphones = []FileSource{{ID: syntheticMicID, Label: "Silent microphone"}}
	}
	return d
}

func withLabels(sources []FileSource, prefix string) []FileSource {
	out := make([]FileSource, 0, len(sources))
	for i, s := range sources {
		if s.Path == "" {
			continue
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("%s-%d", prefix, i)
		}
		if s.Label == "" {
			s.Label = filepath.Base(s.Path)
		}
		out = append(out, s)
	}
	return out
}

// Enumerate lists every configured device.
func (d *FileDevices) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []DeviceInfo
	for _, c := range d.cameras {
		out = append(out, DeviceInfo{ID: c.ID, Label: c.Label, Kind: KindVideo})
	}
	for _, m := range d.microphones {
		out = append(out, DeviceInfo{ID: m.ID, Label: m.Label, Kind: KindAudio})
	}
	if d.screen != "" {
		out = append(out, DeviceInfo{ID: screenID, Label: filepath.Base(d.screen), Kind: KindVideo, Display: true})
	}
	return out, nil
}

// UserMedia opens the camera and microphone selected by c.
func (d *FileDevices) UserMedia(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := uuid.NewString()
	stream := NewStream(streamID)

	if c.Audio {
		src, err := pick(d.microphones, c.AudioDeviceID)
		if err != nil {
			return nil, err
		}
		track, err := d.openMicrophone(src, streamID)
		if err != nil {
			return nil, err
		}
		stream.AddTrack(track)
	}

	if c.Video {
		src, err := pick(d.cameras, c.VideoDeviceID)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		track, err := d.openCamera(src, streamID)
		if err != nil {
			stream.Stop()
			return nil, err
		}
		stream.AddTrack(track)
	}

	return stream, nil
}

// DisplayMedia opens the screen source. Its track ends at EOF.
func (d *FileDevices) DisplayMedia(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.screen == "" {
		return nil, fmt.Errorf("%w: no display source", ErrDeviceNotFound)
	}
	streamID := uuid.NewString()
	track, err := openIVF(FileSource{ID: screenID, Path: d.screen}, streamID, false, d.clock, d.logger)
	if err != nil {
		return nil, err
	}
	return NewStream(streamID, track), nil
}

func (d *FileDevices) openCamera(src FileSource, streamID string) (*LocalTrack, error) {
	if src.Path == "" {
		return NewLocalTrack(KindVideo, uuid.NewString(), streamID, src.ID, "")
	}
	return openIVF(src, streamID, true, d.clock, d.logger)
}

func (d *FileDevices) openMicrophone(src FileSource, streamID string) (*LocalTrack, error) {
	if src.Path == "" {
		return startSilence(src.ID, streamID, d.clock)
	}
	return openOgg(src, streamID, d.clock, d.logger)
}

func pick(sources []FileSource, id string) (FileSource, error) {
	if id == "" && len(sources) > 0 {
		return sources[0], nil
	}
	for _, s := range sources {
		if s.ID == id {
			return s, nil
		}
	}
	return FileSource{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
}

func openError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	default:
		return fmt.Errorf("open %s: %w", path, err)
	}
}
