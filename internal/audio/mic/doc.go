// Package mic captures live audio from the default input device through
// PortAudio. Builds without cgo get a stub whose Open always fails.
package mic

import "errors"

// Name is the audio_source value that selects live capture.
const Name = "portaudio"

var ErrUnavailable = errors.New("mic: portaudio capture unavailable in this build")
