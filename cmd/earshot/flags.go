package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/MrWong99/earshot/internal/config"
)

const defaultConfigPath = "config.yaml"

type cliFlags struct {
	configPath string
	output     string
	deviceID   int
	deviceName string
	list       bool
	service    string
	input      string
	wavDir     string

	// set holds the names of flags given on the command line.
	set map[string]bool
}

func parseFlags(args []string) (*cliFlags, error) {
	f := &cliFlags{set: make(map[string]bool)}
	fs := flag.NewFlagSet("earshot", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", defaultConfigPath, "path to the YAML configuration file")
	fs.StringVar(&f.output, "o", config.DefaultTextFile, "append transcripts to this text file")
	fs.IntVar(&f.deviceID, "d", -1, "input device id (see -l)")
	fs.StringVar(&f.deviceName, "n", "", "input device name substring")
	fs.BoolVar(&f.list, "l", false, "list input devices and exit")
	fs.StringVar(&f.service, "s", "", "speech-to-text service: "+strings.Join(config.ValidProviderNames["stt"], "|"))
	fs.StringVar(&f.input, "i", "", "segment this WAV file instead of the microphone")
	fs.StringVar(&f.wavDir, "wav-dir", "", "save every utterance as a WAV file in this directory")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected arguments: %v", fs.Args())
		fmt.Fprintln(fs.Output(), err)
		fs.Usage()
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return f, nil
}

// loadConfig reads the config file and applies flag overrides. A missing
// file is only tolerated when -config was not given explicitly; the
// defaults are used instead.
func loadConfig(f *cliFlags) (cfg *config.Config, fromFile bool, err error) {
	cfg, err = config.Load(f.configPath)
	switch {
	case err == nil:
		fromFile = true
	case errors.Is(err, os.ErrNotExist) && !f.set["config"]:
		cfg = config.Default()
	default:
		return nil, false, err
	}

	applyFlags(cfg, f)
	if err := config.Validate(cfg); err != nil {
		return nil, false, fmt.Errorf("config: %w", err)
	}
	return cfg, fromFile, nil
}

// applyFlags overrides cfg with every flag that was set explicitly.
func applyFlags(cfg *config.Config, f *cliFlags) {
	if f.set["o"] {
		cfg.Output.TextFile = f.output
	}
	if f.set["d"] {
		id := f.deviceID
		cfg.Audio.Device.ID = &id
	}
	if f.set["n"] {
		cfg.Audio.Device.Name = f.deviceName
	}
	if f.set["s"] && f.service != cfg.Providers.STT.Name {
		cfg.Providers.STT = config.ProviderEntry{Name: f.service}
	}
	if f.set["i"] {
		cfg.Providers.Audio = config.ProviderEntry{
			Name:    "wavfile",
			Options: map[string]any{"path": f.input},
		}
	}
	if f.set["wav-dir"] {
		cfg.Output.WAVDir = f.wavDir
	}
}
