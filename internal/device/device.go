// Package device owns the local capture stream and keeps every copy of it
// in step when tracks are toggled or swapped.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BioHazard786/discushy/internal/media"
)

// Error reports a failed capture operation.
type Error struct {
	Op       string
	DeviceID string
	Err      error
}

func (e *Error) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.DeviceID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNotAcquired is returned by operations that need the local stream
// before Acquire succeeded.
var ErrNotAcquired = errors.New("device: local media not acquired")

// ErrNoTrack is returned when toggling a kind the local stream lacks.
var ErrNoTrack = errors.New("device: no track of that kind")

// State is published on every device change.
type State struct {
	CameraID string
	MicID    string
	CameraOn bool
	MicOn    bool
}

// MicrophoneSink receives the new mic track after a switch.
type MicrophoneSink interface {
	ReplaceMicrophone(track media.Track)
}

// Controller owns the local capture stream.
type Controller struct {
	devices media.Devices
	logger  *slog.Logger

	mu      sync.Mutex
	local   *media.Stream
	mirrors []*media.Stream
	state   State
	senders func() []media.Sender
	sink    MicrophoneSink
	subs    map[int]func(State)
	nextSub int
}

// New creates a controller over the given capture backend.
func New(devices media.Devices, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		devices: devices,
		logger:  logger.With("component", "device"),
		subs:    make(map[int]func(State)),
	}
}

// Acquire opens the local stream. A failure leaves nothing behind.
func (c *Controller) Acquire(ctx context.Context, constraints media.Constraints) (*media.Stream, error) {
	stream, err := c.devices.UserMedia(ctx, constraints)
	if err != nil {
		return nil, &Error{Op: "acquire", Err: err}
	}

	c.mu.Lock()
	if c.local != nil {
		c.local.Stop()
	}
	c.local = stream
	c.state = State{}
	for _, t := range stream.LocalTracks() {
		switch t.Kind() {
		case media.KindAudio:
			c.state.MicID, c.state.MicOn = t.DeviceID(), t.Enabled()
		case media.KindVideo:
			c.state.CameraID, c.state.CameraOn = t.DeviceID(), t.Enabled()
		}
	}
	state := c.state
	c.mu.Unlock()

	c.logger.Info("Local media acquired", "camera", state.CameraID, "mic", state.MicID)
	c.emit(state)
	return stream, nil
}

// Local returns the acquired stream.
func (c *Controller) Local() *media.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Mirror registers a stream that shares the local video tracks by
// reference, such as the mixed stream.
func (c *Controller) Mirror(s *media.Stream) {
	c.mu.Lock()
	c.mirrors = append(c.mirrors, s)
	c.mu.Unlock()
}

// SetSenderSource installs the snapshot of outbound senders used when a
// camera is swapped.
func (c *Controller) SetSenderSource(fn func() []media.Sender) {
	c.mu.Lock()
	c.senders = fn
	c.mu.Unlock()
}

// SetMicrophoneSink installs the receiver of microphone switches.
func (c *Controller) SetMicrophoneSink(sink MicrophoneSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// State returns the current device state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for device-state-changed events.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) emit(s State) {
	c.mu.Lock()
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// ToggleCamera flips every video track and returns the new on state.
func (c *Controller) ToggleCamera() (bool, error) {
	return c.toggle(media.KindVideo)
}

// ToggleMic flips every audio track and returns the new on state.
func (c *Controller) ToggleMic() (bool, error) {
	return c.toggle(media.KindAudio)
}

func (c *Controller) toggle(kind media.Kind) (bool, error) {
	c.mu.Lock()
	if c.local == nil {
		c.mu.Unlock()
		return false, ErrNotAcquired
	}
	var tracks []media.Track
	for _, t := range c.local.Tracks() {
		if t.Kind() == kind {
			tracks = append(tracks, t)
		}
	}
	if len(tracks) == 0 {
		c.mu.Unlock()
		return false, &Error{Op: "toggle " + string(kind), Err: ErrNoTrack}
	}

	var on *bool
	if kind == media.KindVideo {
		on = &c.state.CameraOn
	} else {
		on = &c.state.MicOn
	}
	*on = !*on
	next := *on
	for _, t := range tracks {
		t.SetEnabled(next)
	}
	state := c.state
	c.mu.Unlock()

	c.emit(state)
	return next, nil
}

// SwitchCamera swaps the camera in the local stream, every mirror and
// every sender still carrying the old track. A failed capture leaves the
// current camera in place.
func (c *Controller) SwitchCamera(ctx context.Context, deviceID string) error {
	next, err := c.capture(ctx, media.Constraints{Video: true, VideoDeviceID: deviceID})
	if err != nil {
		return &Error{Op: "switch camera", DeviceID: deviceID, Err: err}
	}

	c.mu.Lock()
	if c.local == nil {
		c.mu.Unlock()
		next.Stop()
		return ErrNotAcquired
	}
	next.SetEnabled(c.state.CameraOn)

	var old media.Track
	if v := c.local.VideoTracks(); len(v) > 0 {
		old = v[0]
	}
	swap(c.local, old, next)
	for _, m := range c.mirrors {
		swap(m, old, next)
	}
	senders := c.senders
	c.state.CameraID = deviceID
	state := c.state
	c.mu.Unlock()

	if senders != nil {
		for _, s := range senders() {
			if s.Kind() != media.KindVideo || (old != nil && s.Track() != old) {
				continue
			}
			if err := s.ReplaceTrack(next); err != nil {
				c.logger.Warn("Failed to replace video sender track", "error", err)
			}
		}
	}
	if old != nil {
		old.Stop()
	}

	c.logger.Info("Camera switched", "device", deviceID)
	c.emit(state)
	return nil
}

// SwitchMicrophone swaps the mic in the local stream and re-points the
// mixer input. Outgoing audio is the mixer's track, so no sender changes.
func (c *Controller) SwitchMicrophone(ctx context.Context, deviceID string) error {
	next, err := c.capture(ctx, media.Constraints{Audio: true, AudioDeviceID: deviceID})
	if err != nil {
		return &Error{Op: "switch microphone", DeviceID: deviceID, Err: err}
	}

	c.mu.Lock()
	if c.local == nil {
		c.mu.Unlock()
		next.Stop()
		return ErrNotAcquired
	}
	next.SetEnabled(c.state.MicOn)

	var old media.Track
	if a := c.local.AudioTracks(); len(a) > 0 {
		old = a[0]
	}
	swap(c.local, old, next)
	sink := c.sink
	c.state.MicID = deviceID
	state := c.state
	c.mu.Unlock()

	if sink != nil {
		sink.ReplaceMicrophone(next)
	}
	if old != nil {
		old.Stop()
	}

	c.logger.Info("Microphone switched", "device", deviceID)
	c.emit(state)
	return nil
}

func (c *Controller) capture(ctx context.Context, constraints media.Constraints) (*media.LocalTrack, error) {
	stream, err := c.devices.UserMedia(ctx, constraints)
	if err != nil {
		return nil, err
	}
	tracks := stream.LocalTracks()
	if len(tracks) == 0 {
		stream.Stop()
		return nil, media.ErrDeviceNotFound
	}
	for _, extra := range tracks[1:] {
		extra.Stop()
	}
	return tracks[0], nil
}

func swap(s *media.Stream, old media.Track, next media.Track) {
	if old == nil || !s.ReplaceTrack(old, next) {
		s.AddTrack(next)
	}
}

// CaptureDisplay opens a screen capture stream. The caller owns it.
func (c *Controller) CaptureDisplay(ctx context.Context) (*media.Stream, error) {
	stream, err := c.devices.DisplayMedia(ctx)
	if err != nil {
		return nil, &Error{Op: "capture display", Err: err}
	}
	return stream, nil
}

// Devices lists the capture devices.
func (c *Controller) Devices(ctx context.Context) ([]media.DeviceInfo, error) {
	return c.devices.Enumerate(ctx)
}

// Close stops every owned track.
func (c *Controller) Close() {
	c.mu.Lock()
	local := c.local
	c.local = nil
	c.mu.Unlock()
	if local != nil {
		local.Stop()
	}
}
