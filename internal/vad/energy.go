// Package vad decides whether a captured frame carries speech.
package vad

// Detector is the voice-activity predicate the engine consults per frame.
type Detector interface {
	IsSpeech(frame []int16) bool
}

// Func adapts a plain function to Detector.
type Func func(frame []int16) bool

func (f Func) IsSpeech(frame []int16) bool {
	return f(frame)
}

const (
	DefaultThreshold  = 1000
	DefaultNoiseLevel = 0.1
)

// Energy flags a frame as speech when its mean absolute amplitude exceeds
// Threshold scaled by the estimated noise level.
type Energy struct {
	Threshold  float64
	NoiseLevel float64
}

func NewEnergy(threshold float64) *Energy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Energy{Threshold: threshold, NoiseLevel: DefaultNoiseLevel}
}

func (e *Energy) IsSpeech(frame []int16) bool {
	if len(frame) == 0 {
		return false
	}
	return MeanAbs(frame) > e.threshold()
}

func (e *Energy) threshold() float64 {
	return e.Threshold * (1.0 + e.NoiseLevel)
}

// MeanAbs is the short-time energy measure: mean of |sample|.
func MeanAbs(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(frame))
}
