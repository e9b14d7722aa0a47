// Package mic provides a microphone-backed [audio.Source] using PortAudio.
//
// The PortAudio stream runs in callback mode. The callback copies each
// buffer into an [audio.Block] (down-mixing to mono when the device is
// opened with more than one channel) and hands it to the consumer with a
// non-blocking send. When the consumer falls behind and the queue is full
// the block is dropped and reported through the drop hook; the callback
// never blocks.
//
// The PortAudio C library must be available at link time.
package mic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/earshot/pkg/audio"
)

const (
	defaultSampleRate = 16000
	defaultChannels   = 1
	defaultBlockSize  = 512
	defaultQueueSize  = 64
)

// Compile-time assertion that Source implements audio.Source.
var _ audio.Source = (*Source)(nil)

// Option is a functional option for configuring a Source.
type Option func(*Source)

// WithDevice selects the capture device. The zero selector uses the system
// default input device.
func WithDevice(sel audio.DeviceSelector) Option {
	return func(s *Source) { s.selector = sel }
}

// WithSampleRate sets the capture sample rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) {
		if rate > 0 {
			s.sampleRate = rate
		}
	}
}

// WithChannels sets the number of capture channels requested from the
// device. Blocks are always delivered as mono. Defaults to 1.
func WithChannels(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.channels = n
		}
	}
}

// WithBlockSize sets the number of frames per delivered block. Defaults to 512.
func WithBlockSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.blockSize = n
		}
	}
}

// WithQueueSize sets the capacity of the block channel. Defaults to 64
// blocks (about two seconds at 16 kHz with 512-frame blocks).
func WithQueueSize(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithDropHandler registers fn to be called from the audio callback whenever
// a block is dropped because the queue is full. fn must not block.
func WithDropHandler(fn func()) Option {
	return func(s *Source) { s.onDrop = fn }
}

// Source captures audio from a PortAudio input device.
// A Source may be started again after it has been stopped.
type Source struct {
	selector   audio.DeviceSelector
	sampleRate int
	channels   int
	blockSize  int
	queueSize  int
	onDrop     func()

	mu      sync.Mutex
	stream  *portaudio.Stream
	out     chan audio.Block
	done    chan struct{}
	running bool

	// Touched from the audio callback only, plus the closed flag which Stop
	// sets before closing out.
	closed  atomic.Bool
	seq     uint64
	offset  time.Duration
	opened  int // channels the stream was opened with
	dropped atomic.Uint64
}

// New creates a microphone source. No device is opened until Start.
func New(opts ...Option) *Source {
	s := &Source{
		sampleRate: defaultSampleRate,
		channels:   defaultChannels,
		blockSize:  defaultBlockSize,
		queueSize:  defaultQueueSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start opens the selected device and begins capture. It fails with an
// error wrapping [audio.ErrDeviceUnavailable] when PortAudio cannot be
// initialised, the requested device does not exist, or the stream cannot be
// opened. When ctx is cancelled the source stops itself.
func (s *Source) Start(ctx context.Context) (<-chan audio.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, errors.New("mic: source already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initialise portaudio: %v", audio.ErrDeviceUnavailable, err)
	}

	dev, info, err := s.openDevice()
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	channels := min(s.channels, max(dev.MaxInputChannels, 1))
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.sampleRate),
		FramesPerBuffer: s.blockSize,
	}

	s.out = make(chan audio.Block, s.queueSize)
	s.done = make(chan struct{})
	s.closed.Store(false)
	s.seq = 0
	s.offset = 0
	s.opened = channels
	s.dropped.Store(0)

	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: open stream on %q: %v", audio.ErrDeviceUnavailable, dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: start stream on %q: %v", audio.ErrDeviceUnavailable, dev.Name, err)
	}

	s.stream = stream
	s.running = true

	slog.Info("mic: capture started",
		"device", info.Name,
		"device_id", info.ID,
		"sample_rate", s.sampleRate,
		"channels", channels,
		"block_size", s.blockSize,
	)

	done := s.done
	go func() {
		select {
		case <-ctx.Done():
			if err := s.Stop(); err != nil {
				slog.Warn("mic: stop after context cancel", "err", err)
			}
		case <-done:
		}
	}()

	return s.out, nil
}

// Stop halts capture, closes the block channel, and releases the device.
// It blocks until the audio callback has returned for the last time.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.done)

	var errs []error
	// Stream.Stop waits for any in-flight callback, so after it returns no
	// further sends on s.out can happen.
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("mic: stop stream: %w", err))
	}
	s.closed.Store(true)
	close(s.out)
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("mic: close stream: %w", err))
	}
	s.stream = nil
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("mic: terminate portaudio: %w", err))
	}

	slog.Info("mic: capture stopped", "dropped_blocks", s.dropped.Load())
	return errors.Join(errs...)
}

// Dropped returns the number of blocks dropped in the current or most recent
// capture session.
func (s *Source) Dropped() uint64 { return s.dropped.Load() }

// callback runs on the PortAudio thread. in is reused by PortAudio after the
// call returns, so the samples are copied.
func (s *Source) callback(in []float32) {
	if s.closed.Load() {
		return
	}
	samples := audio.Downmix(in, s.opened)
	blk := audio.Block{
		Samples:    samples,
		SampleRate: s.sampleRate,
		Timestamp:  s.offset,
		Seq:        s.seq,
	}
	s.seq++
	s.offset += time.Duration(len(samples)) * time.Second / time.Duration(s.sampleRate)

	select {
	case s.out <- blk:
	default:
		s.dropped.Add(1)
		if s.onDrop != nil {
			s.onDrop()
		}
	}
}

// openDevice resolves the selector against the current device list. Must be
// called after portaudio.Initialize.
func (s *Source) openDevice() (*portaudio.DeviceInfo, audio.DeviceInfo, error) {
	devs, infos, err := listDevices()
	if err != nil {
		return nil, audio.DeviceInfo{}, fmt.Errorf("%w: list devices: %v", audio.ErrDeviceUnavailable, err)
	}
	info, err := Resolve(infos, s.selector)
	if err != nil {
		return nil, audio.DeviceInfo{}, err
	}
	return devs[info.ID], info, nil
}

// ListDevices returns all devices with at least one input channel. It
// initialises and terminates PortAudio itself and keeps no state, so it can
// be called while no Source is running.
func ListDevices() ([]audio.DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("mic: initialise portaudio: %w", err)
	}
	defer portaudio.Terminate()

	_, infos, err := listDevices()
	if err != nil {
		return nil, fmt.Errorf("mic: list devices: %w", err)
	}
	inputs := make([]audio.DeviceInfo, 0, len(infos))
	for _, d := range infos {
		if d.MaxInputChannels > 0 {
			inputs = append(inputs, d)
		}
	}
	return inputs, nil
}

// listDevices returns the raw PortAudio devices alongside their
// [audio.DeviceInfo] view. The ID of each info is its position in the raw
// slice.
func listDevices() ([]*portaudio.DeviceInfo, []audio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, nil, err
	}
	def, err := portaudio.DefaultInputDevice()
	if err != nil {
		// No default input is not fatal; explicit selection still works.
		def = nil
	}

	infos := make([]audio.DeviceInfo, len(devs))
	for i, d := range devs {
		infos[i] = audio.DeviceInfo{
			ID:                i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         def != nil && sameDevice(d, def),
		}
	}
	return devs, infos, nil
}

func sameDevice(a, b *portaudio.DeviceInfo) bool {
	if a.Name != b.Name || a.MaxInputChannels != b.MaxInputChannels {
		return false
	}
	if a.HostApi == nil || b.HostApi == nil {
		return a.HostApi == b.HostApi
	}
	return a.HostApi.Name == b.HostApi.Name
}

// Resolve picks the input device described by sel from devices.
//
//   - An explicit ID must name an existing device with input channels.
//   - An explicit name matches the first input device whose name contains it,
//     case-insensitively.
//   - The zero selector picks the default input device.
//
// Explicit requests that cannot be satisfied fail with
// [audio.ErrDeviceUnavailable] rather than silently using another device.
func Resolve(devices []audio.DeviceInfo, sel audio.DeviceSelector) (audio.DeviceInfo, error) {
	switch {
	case sel.ID != nil:
		for _, d := range devices {
			if d.ID == *sel.ID {
				if d.MaxInputChannels < 1 {
					return audio.DeviceInfo{}, fmt.Errorf("%w: device %d has no input channels", audio.ErrDeviceUnavailable, d.ID)
				}
				return d, nil
			}
		}
		return audio.DeviceInfo{}, fmt.Errorf("%w: no device with id %d", audio.ErrDeviceUnavailable, *sel.ID)

	case sel.Name != "":
		needle := strings.ToLower(sel.Name)
		for _, d := range devices {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), needle) {
				return d, nil
			}
		}
		return audio.DeviceInfo{}, fmt.Errorf("%w: no input device matching %q", audio.ErrDeviceUnavailable, sel.Name)

	default:
		for _, d := range devices {
			if d.IsDefault && d.MaxInputChannels > 0 {
				return d, nil
			}
		}
		for _, d := range devices {
			if d.MaxInputChannels > 0 {
				slog.Warn("mic: no default input device, using first input", "device", d.Name, "device_id", d.ID)
				return d, nil
			}
		}
		return audio.DeviceInfo{}, fmt.Errorf("%w: no input devices", audio.ErrDeviceUnavailable)
	}
}
