package bridge

import "github.com/MrWong99/voxbridge/pkg/provider/enhancer"

// ProcessorContext is a narrow handle onto the enhancement state of a
// [Processor]. It may be handed to another goroutine (a UI thread, a control
// loop) and used while the owner keeps processing audio; every call takes
// the owner's lock, so it observes the same state as the owner.
type ProcessorContext struct {
	owner *Processor
}

// Reset clears transient engine state. Same semantics as [Processor.Reset].
func (c *ProcessorContext) Reset() error { return c.owner.Reset() }

// SetParameter writes an enhancement parameter.
func (c *ProcessorContext) SetParameter(param enhancer.ProcessorParameter, value float32) error {
	return c.owner.SetParameter(param, value)
}

// Parameter reads an enhancement parameter.
func (c *ProcessorContext) Parameter(param enhancer.ProcessorParameter) (float32, error) {
	return c.owner.Parameter(param)
}

// OutputDelay returns the engine latency in samples.
func (c *ProcessorContext) OutputDelay() (int, error) { return c.owner.OutputDelay() }

// VadContext is a narrow handle onto the voice activity state of a
// [Processor].
type VadContext struct {
	owner *Processor
}

// IsSpeechDetected reports the engine's current speech decision, which is
// updated by the most recent processed block. It fails only once the owner is
// closed.
func (c *VadContext) IsSpeechDetected() (bool, error) { return c.owner.speechDetected() }

// SetParameter writes a VAD parameter.
func (c *VadContext) SetParameter(param enhancer.VadParameter, value float32) error {
	return c.owner.setVadParameter(param, value)
}

// Parameter reads a VAD parameter.
func (c *VadContext) Parameter(param enhancer.VadParameter) (float32, error) {
	return c.owner.vadParameter(param)
}
