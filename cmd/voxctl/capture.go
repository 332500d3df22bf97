package main

import (
	"strings"

	"github.com/danmuck/edgevox/internal/audio"
	"github.com/danmuck/edgevox/internal/audio/mic"
	"github.com/danmuck/edgevox/internal/config"
)

// openCapture resolves audio_source: "portaudio" is the live microphone,
// anything else is a raw PCM stream paced to the sample rate on clock.
func openCapture(cfg config.Device, clock audio.Clock) (audio.Capture, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.Audio.Path), mic.Name) {
		src, err := mic.Open(cfg.Audio.SampleRate, cfg.Engine.FrameSamples)
		if err != nil {
			return nil, err
		}
		return src, nil
	}
	return audio.Open(cfg.Audio, clock)
}
