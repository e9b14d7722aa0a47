// Package audio defines the capture abstractions and sample helpers used by
// the earshot segmentation pipeline.
//
// The primary abstraction is [Source]: a live or recorded stream that
// delivers fixed-size [Block] values on a channel. Implementations live in
// sub-packages (audio/mic for microphones, audio/wavfile for recorded
// files) so that the core pipeline never imports cgo-backed code.
//
// This package lives under pkg/ because external code is expected to
// implement [Source] for other capture backends.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrDeviceUnavailable is returned by [Source.Start] when the requested input
// device cannot be found or opened.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Source is a stream of audio blocks.
//
// Start begins delivery and returns the receive side of the block channel.
// The channel is closed when the source is stopped or, for finite sources,
// when the input is exhausted. Start fails with an error wrapping
// [ErrDeviceUnavailable] when the device cannot be opened.
//
// Stop ends delivery. After Stop returns no further blocks are sent on the
// channel. Calling Stop more than once, or before Start, is safe and
// returns nil.
//
// Implementations must be safe for concurrent calls to Stop.
type Source interface {
	Start(ctx context.Context) (<-chan Block, error)
	Stop() error
}

// DeviceInfo describes an input device as reported by the platform audio
// subsystem.
type DeviceInfo struct {
	// ID is the platform device index.
	ID int

	// Name is the human-readable device name.
	Name string

	// MaxInputChannels is the maximum number of capture channels. Devices with
	// zero input channels are never listed.
	MaxInputChannels int

	// DefaultSampleRate is the native sample rate reported by the device.
	DefaultSampleRate float64

	// IsDefault is true for the system default input device.
	IsDefault bool
}

// DeviceSelector picks an input device. The zero value selects the system
// default device.
type DeviceSelector struct {
	// ID selects a device by platform index. Nil means "not requested".
	ID *int

	// Name selects the first input device whose name contains Name
	// (case-insensitive). Ignored when ID is set.
	Name string
}

// IsZero reports whether no explicit device was requested.
func (s DeviceSelector) IsZero() bool {
	return s.ID == nil && s.Name == ""
}

// String returns a short description for log output.
func (s DeviceSelector) String() string {
	switch {
	case s.ID != nil:
		return fmt.Sprintf("id=%d", *s.ID)
	case s.Name != "":
		return fmt.Sprintf("name=%q", s.Name)
	default:
		return "default"
	}
}

// PrintDevices writes a human-readable device table to w. The default input
// device is marked with "*".
func PrintDevices(w io.Writer, devices []DeviceInfo) {
	fmt.Fprintln(w, "Available input devices:")
	fmt.Fprintln(w, "----------------------------------------------------------------------")
	for _, d := range devices {
		mark := "  "
		if d.IsDefault {
			mark = "* "
		}
		fmt.Fprintf(w, "%s%d: %s (input channels: %d, %.0f Hz)\n", mark, d.ID, d.Name, d.MaxInputChannels, d.DefaultSampleRate)
	}
	fmt.Fprintln(w, "----------------------------------------------------------------------")
}
