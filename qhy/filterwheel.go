package qhy

import (
	"fmt"
	"sync"
)

// FilterWheel drives the color filter wheel attached to the camera.
// Slots are numbered from 1.
type FilterWheel struct {
	mu      sync.Mutex
	dev     device
	slots   int
	current int
	names   []string
}

func newFilterWheel(dev device, slots int, names []string) *FilterWheel {
	n := make([]string, slots)
	for i := range n {
		if i < len(names) {
			n[i] = names[i]
		} else {
			n[i] = fmt.Sprintf("Filter %d", i+1)
		}
	}
	return &FilterWheel{dev: dev, slots: slots, current: 1, names: n}
}

// Select moves the wheel to slot
func (f *FilterWheel) Select(slot int) error {
	if slot < 1 || slot > f.slots {
		return fmt.Errorf("%w: %d, wheel has %d slots", ErrInvalidFilterSlot, slot, f.slots)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.dev.selectFilter(slot - 1); err != nil {
		return err
	}
	f.current = slot
	return nil
}

// Current returns the slot the wheel was last moved to
func (f *FilterWheel) Current() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Slots is the number of positions on the wheel
func (f *FilterWheel) Slots() int {
	return f.slots
}

// Name returns the name of a slot, or the empty string if out of range
func (f *FilterWheel) Name(slot int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slot < 1 || slot > len(f.names) {
		return ""
	}
	return f.names[slot-1]
}

// SetName renames a slot
func (f *FilterWheel) SetName(slot int, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if slot < 1 || slot > len(f.names) {
		return fmt.Errorf("%w: %d", ErrInvalidFilterSlot, slot)
	}
	f.names[slot-1] = name
	return nil
}

// Names returns a copy of the slot names
func (f *FilterWheel) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}
