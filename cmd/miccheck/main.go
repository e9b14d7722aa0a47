// Command miccheck lists input devices and records a few seconds from one of
// them to a WAV file, to verify capture before running earshot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/audio/mic"
)

func main() {
	os.Exit(run())
}

func run() int {
	deviceID := flag.Int("d", -1, "input device id")
	deviceName := flag.String("n", "", "input device name substring")
	seconds := flag.Float64("t", 5, "seconds to record")
	rate := flag.Int("r", 16000, "sample rate in Hz")
	out := flag.String("o", "miccheck.wav", "output WAV file")
	list := flag.Bool("l", false, "list input devices and exit")
	flag.Parse()

	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	devices, err := mic.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "miccheck: %v\n", err)
		return 1
	}
	audio.PrintDevices(os.Stdout, devices)
	if *list {
		return 0
	}

	sel := audio.DeviceSelector{Name: *deviceName}
	if *deviceID >= 0 {
		sel.ID = deviceID
	}
	dev, err := mic.Resolve(devices, sel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "miccheck: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(*seconds*float64(time.Second)))
	defer cancel()

	src := mic.New(mic.WithDevice(sel), mic.WithSampleRate(*rate))
	samples, err := record(ctx, src, int(*seconds*float64(*rate)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "miccheck: %v\n", err)
		return 1
	}
	if len(samples) == 0 {
		fmt.Fprintln(os.Stderr, "miccheck: no audio captured")
		return 1
	}

	if err := audio.WriteWAVFile(*out, samples, *rate); err != nil {
		fmt.Fprintf(os.Stderr, "miccheck: %v\n", err)
		return 1
	}
	fmt.Printf("recorded %.2fs from %q (peak %.3f, rms %.4f) to %s\n",
		float64(len(samples))/float64(*rate), dev.Name, audio.Block{Samples: samples}.Peak(), audio.RMS(samples), *out)
	if src.Dropped() > 0 {
		fmt.Printf("warning: %d blocks dropped\n", src.Dropped())
	}
	return 0
}

// record collects up to limit samples from src until ctx is done.
func record(ctx context.Context, src audio.Source, limit int) ([]float32, error) {
	blocks, err := src.Start(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := src.Stop(); err != nil {
			slog.Warn("miccheck: stop", "err", err)
		}
	}()

	samples := make([]float32, 0, limit)
	for len(samples) < limit {
		select {
		case blk, ok := <-blocks:
			if !ok {
				return samples, nil
			}
			samples = append(samples, blk.Samples...)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return samples, nil
			}
			return samples, ctx.Err()
		}
	}
	return samples[:limit], nil
}
