package team

import (
	"errors"
	"fmt"
)

// MemoryLength is the number of slots each competing team owns.
const MemoryLength = 32

var ErrIndexOutOfRange = errors.New("team memory index out of range")

var errNotCompeting = errors.New("team has no memory")

// Memory holds the persistent slots of both competing teams. It is a value
// type: assigning it copies the slots, which is how ownership moves from one
// match to the next.
type Memory struct {
	slots [2][MemoryLength]int64
}

func slot(t Team, index int) (int, error) {
	if !t.Competing() {
		return 0, fmt.Errorf("%w: %s", errNotCompeting, t)
	}
	if index < 0 || index >= MemoryLength {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, index, MemoryLength)
	}
	return int(t), nil
}

func (m *Memory) Get(t Team, index int) (int64, error) {
	row, err := slot(t, index)
	if err != nil {
		return 0, err
	}
	return m.slots[row][index], nil
}

// Set overwrites a slot.
func (m *Memory) Set(t Team, index int, value int64) error {
	row, err := slot(t, index)
	if err != nil {
		return err
	}
	m.slots[row][index] = value
	return nil
}

// SetMasked replaces only the bits selected by mask; every other bit of the
// slot is left as it was.
func (m *Memory) SetMasked(t Team, index int, value, mask int64) error {
	row, err := slot(t, index)
	if err != nil {
		return err
	}
	m.slots[row][index] = Merge(m.slots[row][index], value, mask)
	return nil
}

// Slots returns a copy of a team's slots.
func (m *Memory) Slots(t Team) [MemoryLength]int64 {
	if !t.Competing() {
		return [MemoryLength]int64{}
	}
	return m.slots[t]
}

func Merge(old, value, mask int64) int64 {
	return (old &^ mask) | (value & mask)
}
