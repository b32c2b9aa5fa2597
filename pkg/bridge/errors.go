package bridge

import (
	"errors"
	"fmt"

	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// Sentinel errors for the bridge error taxonomy. Use errors.Is to classify a
// failure; use errors.As with the typed errors below to get the details.
var (
	// ErrInvalidArgument marks a value rejected by the bridge before any
	// engine call: an unknown code or name, too many channels, or aliased
	// channel buffers. Nothing was modified.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCapacityExceeded marks a planar call with more than MaxChannels
	// channels. It also matches ErrInvalidArgument.
	ErrCapacityExceeded = errors.New("channel capacity exceeded")

	// ErrAliasedChannels marks a planar call whose channel buffers overlap in
	// memory. It also matches ErrInvalidArgument.
	ErrAliasedChannels = errors.New("planar channel buffers overlap")

	// ErrInvalidState marks a call that is not legal in the processor's
	// current state, such as processing before Initialize.
	ErrInvalidState = errors.New("invalid state")

	// ErrClosed marks a call on a processor (or one of its contexts) after
	// Close. It also matches ErrInvalidState.
	ErrClosed = fmt.Errorf("%w: processor is closed", ErrInvalidState)
)

// ArgumentError reports a raw value that could not be decoded.
type ArgumentError struct {
	// Kind names what was being decoded, e.g. "processor parameter".
	Kind string

	// Value is the offending raw value exactly as received.
	Value any
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Kind, e.Value)
}

// Is reports whether target is ErrInvalidArgument.
func (e *ArgumentError) Is(target error) bool { return target == ErrInvalidArgument }

// CapacityError reports a planar call that exceeded the fixed channel limit.
type CapacityError struct {
	Count int
	Max   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("maximum %d channels supported for planar processing, got %d", e.Max, e.Count)
}

// Is matches ErrCapacityExceeded and ErrInvalidArgument.
func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded || target == ErrInvalidArgument
}

// AliasError reports two planar channels whose buffers share memory.
type AliasError struct {
	First, Second int
}

func (e *AliasError) Error() string {
	return fmt.Sprintf("planar channels %d and %d share memory", e.First, e.Second)
}

// Is matches ErrAliasedChannels and ErrInvalidArgument.
func (e *AliasError) Is(target error) bool {
	return target == ErrAliasedChannels || target == ErrInvalidArgument
}

// StateError reports an operation attempted in a state that does not allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed while processor is %s", e.Op, e.State)
}

// Is matches ErrInvalidState, and ErrClosed when the processor is closed.
func (e *StateError) Is(target error) bool {
	if target == ErrInvalidState {
		return true
	}
	return target == ErrClosed && e.State == StateClosed
}

// EngineError wraps a failure reported by the external engine. Its message is
// the engine's message, unchanged.
type EngineError struct {
	// Op is the bridge operation that called into the engine.
	Op string

	// Err is the error returned by the engine.
	Err error
}

func (e *EngineError) Error() string { return e.Err.Error() }

func (e *EngineError) Unwrap() error { return e.Err }

// Is reports sequencing failures detected by the engine itself as
// ErrInvalidState.
func (e *EngineError) Is(target error) bool {
	return target == ErrInvalidState && errors.Is(e.Err, enhancer.ErrNotInitialized)
}

// engineErr wraps a non-nil engine error.
func engineErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Err: err}
}

// Kind classifies err into one of the taxonomy names used in metrics and in
// host API replies: "invalid_argument", "capacity_exceeded", "invalid_state",
// "engine" or "" for nil.
func Kind(err error) string {
	var ee *EngineError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.As(err, &ee):
		return "engine"
	default:
		return "unknown"
	}
}
