package bridge

import (
	"unsafe"

	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

// MaxChannels is the largest channel count accepted by planar processing.
const MaxChannels = 16

// planarBinder hands the engine one mutable view per channel without
// allocating. The slot array lives inside the owning Processor and is only
// touched while its lock is held.
type planarBinder struct {
	slots [MaxChannels][]float32
}

// process binds channels, runs the engine over the bound views and clears
// the slots again. Capacity and aliasing are checked before the engine sees
// any buffer.
func (b *planarBinder) process(e enhancer.Processor, channels [][]float32) error {
	views, err := b.bind(channels)
	if err != nil {
		return err
	}
	defer b.release(len(views))
	return engineErr("process planar", e.ProcessPlanar(views))
}

func (b *planarBinder) bind(channels [][]float32) ([][]float32, error) {
	n := len(channels)
	if n > MaxChannels {
		return nil, &CapacityError{Count: n, Max: MaxChannels}
	}
	if i, j, ok := overlapping(channels); ok {
		return nil, &AliasError{First: i, Second: j}
	}
	copy(b.slots[:n], channels)
	return b.slots[:n], nil
}

// release drops the slot references so the binder never keeps host buffers
// alive between calls.
func (b *planarBinder) release(n int) {
	clear(b.slots[:n])
}

// overlapping reports the first pair of channels whose backing memory
// intersects. Empty channels never overlap anything.
func overlapping(channels [][]float32) (int, int, bool) {
	const size = unsafe.Sizeof(float32(0))
	for i := range channels {
		if len(channels[i]) == 0 {
			continue
		}
		lo1 := uintptr(unsafe.Pointer(unsafe.SliceData(channels[i])))
		hi1 := lo1 + uintptr(len(channels[i]))*size
		for j := i + 1; j < len(channels); j++ {
			if len(channels[j]) == 0 {
				continue
			}
			lo2 := uintptr(unsafe.Pointer(unsafe.SliceData(channels[j])))
			hi2 := lo2 + uintptr(len(channels[j]))*size
			if lo1 < hi2 && lo2 < hi1 {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}
