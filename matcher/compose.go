package matcher

import "fmt"

const writeBlock = 1 << 14

// Compose streams frames into sink in order, announcing format and the total length
// first. frames must hold exactly want samples.
func Compose(sink SampleSink, format Format, frames Track, want int) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if len(frames) != want {
		return dataErrorf("compose", "%d output samples, parent has %d", len(frames), want)
	}
	if want%format.Channels != 0 {
		return dataErrorf("compose", "%d samples do not fill %d-channel frames", want, format.Channels)
	}
	if err := sink.Begin(format, want); err != nil {
		return NewError(CodeIO, "compose", fmt.Errorf("begin output: %w", err))
	}
	// Blocks hold whole frames only.
	block := writeBlock - writeBlock%format.Channels
	for lo := 0; lo < len(frames); lo += block {
		hi := min(lo+block, len(frames))
		if err := sink.WriteSamples(frames[lo:hi]); err != nil {
			return NewError(CodeIO, "compose", fmt.Errorf("write samples %d..%d: %w", lo, hi, err))
		}
	}
	return nil
}
