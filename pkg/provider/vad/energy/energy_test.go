package energy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/vad"
	"github.com/MrWong99/earshot/pkg/provider/vad/energy"
)

func block(level float32) []float32 {
	b := make([]float32, 512)
	for i := range b {
		if i%2 == 0 {
			b[i] = level
		} else {
			b[i] = -level
		}
	}
	return b
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []energy.Option
		wantErr bool
	}{
		{name: "defaults"},
		{name: "custom", opts: []energy.Option{energy.WithThresholds(0.05, 0.02)}},
		{name: "silence defaults to speech", opts: []energy.Option{energy.WithThresholds(0.05, 0)}},
		{name: "zero speech", opts: []energy.Option{energy.WithThresholds(0, 0)}, wantErr: true},
		{name: "inverted", opts: []energy.Option{energy.WithThresholds(0.01, 0.02)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := energy.New(tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClassify_Hysteresis(t *testing.T) {
	t.Parallel()

	c, err := energy.New(energy.WithThresholds(0.1, 0.05), energy.WithRunLengths(2, 2))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	steps := []struct {
		level float32
		want  bool
	}{
		{0.2, false},  // first loud block, run not long enough
		{0.2, true},   // second loud block starts speech
		{0.07, true},  // between thresholds keeps speech
		{0.01, true},  // first quiet block
		{0.01, false}, // second quiet block ends speech
		{0.07, false}, // between thresholds does not restart
	}
	for i, st := range steps {
		v, err := c.Classify(ctx, block(st.level), 16000)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if v.Speech != st.want {
			t.Errorf("step %d (level %.2f): Speech = %v, want %v", i, st.level, v.Speech, st.want)
		}
		if v.Probability < 0 || v.Probability > 1 {
			t.Errorf("step %d: probability %v out of range", i, v.Probability)
		}
	}
}

func TestClassify_ResetClearsState(t *testing.T) {
	t.Parallel()

	c, err := energy.New(energy.WithThresholds(0.1, 0.05), energy.WithRunLengths(1, 3))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if v, _ := c.Classify(ctx, block(0.3), 16000); !v.Speech {
		t.Fatal("expected speech")
	}
	c.Reset()
	if v, _ := c.Classify(ctx, block(0.01), 16000); v.Speech {
		t.Error("speech state survived Reset")
	}
}

func TestClassify_EmptyIsIndeterminate(t *testing.T) {
	t.Parallel()
	c, _ := energy.New()
	_, err := c.Classify(context.Background(), nil, 16000)
	if !errors.Is(err, vad.ErrIndeterminate) {
		t.Errorf("err = %v, want ErrIndeterminate", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
