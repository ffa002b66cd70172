// Package flash models the flash controller collaborator.
//
// Programmer is what the bootloader needs from real hardware. Sim is an
// in-memory NOR flash with the same programming rules as the target part:
// erased bytes read 0xFF, programming happens in aligned half-words, and a
// write can only clear bits.
package flash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/moffa90/go-canboot/firmware"
)

// ErasedByte is the value of an erased flash byte.
const ErasedByte = 0xFF

// WriteAlignment is the programming granularity in bytes.
const WriteAlignment = 2

// ErrAlignment is returned for writes that are not half-word aligned.
var ErrAlignment = errors.New("flash: write not half-word aligned")

// Programmer erases and programs flash. Addresses are absolute.
type Programmer interface {
	Erase(addr, size uint32) error
	Write(addr uint32, data []byte) error
}

// ProgramError is returned when a write would need to set bits that are
// already cleared.
type ProgramError struct {
	Addr uint32
	Have byte
	Want byte
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("flash: cannot program 0x%02X over 0x%02X at 0x%08X without erase", e.Want, e.Have, e.Addr)
}

// Faults injects failures into a Sim.
type Faults struct {
	// Erase is returned by every Erase call when set.
	Erase error

	// Write is returned by Write once WriteAfter writes have succeeded.
	Write      error
	WriteAfter int
}

// Sim is an in-memory NOR flash region. It implements Programmer and
// firmware.Memory. Sim is safe for concurrent use.
type Sim struct {
	mu     sync.Mutex
	base   uint32
	data   []byte
	faults Faults
	writes int
	erases int
}

var (
	_ Programmer      = (*Sim)(nil)
	_ firmware.Memory = (*Sim)(nil)
)

// NewSim returns an erased region of size bytes starting at base.
func NewSim(base, size uint32) *Sim {
	data := make([]byte, size)
	for i := range data {
		data[i] = ErasedByte
	}
	return &Sim{base: base, data: data}
}

// SetFaults replaces the injected failures.
func (s *Sim) SetFaults(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

func (s *Sim) Base() uint32 { return s.base }

func (s *Sim) Size() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(len(s.data))
}

// Word reads the little-endian word at offset from the base.
func (s *Sim) Word(offset uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := firmware.CheckRange(offset, 4, uint32(len(s.data))); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(s.data[offset:]), nil
}

// ReadAt copies len(p) bytes from offset.
func (s *Sim) ReadAt(p []byte, offset uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := firmware.CheckRange(offset, uint32(len(p)), uint32(len(s.data))); err != nil {
		return err
	}
	copy(p, s.data[offset:])
	return nil
}

// offset converts an absolute address range to an offset in the region.
func (s *Sim) offset(addr, length uint32) (uint32, error) {
	if addr < s.base {
		return 0, &firmware.OutOfRangeError{Offset: addr, Length: length, Size: uint32(len(s.data))}
	}
	off := addr - s.base
	if err := firmware.CheckRange(off, length, uint32(len(s.data))); err != nil {
		return 0, err
	}
	return off, nil
}

// Erase sets size bytes from addr to ErasedByte.
func (s *Sim) Erase(addr, size uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.Erase != nil {
		return s.faults.Erase
	}
	off, err := s.offset(addr, size)
	if err != nil {
		return err
	}
	for i := off; i < off+size; i++ {
		s.data[i] = ErasedByte
	}
	s.erases++
	return nil
}

// Write programs data at addr. Both addr and len(data) must be half-word aligned.
func (s *Sim) Write(addr uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.Write != nil && s.writes >= s.faults.WriteAfter {
		return s.faults.Write
	}
	if addr%WriteAlignment != 0 || len(data)%WriteAlignment != 0 {
		return fmt.Errorf("%w: %d bytes at 0x%08X", ErrAlignment, len(data), addr)
	}
	off, err := s.offset(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	for i, b := range data {
		have := s.data[off+uint32(i)]
		if have&b != b {
			return &ProgramError{Addr: addr + uint32(i), Have: have, Want: b}
		}
	}
	for i, b := range data {
		s.data[off+uint32(i)] &= b
	}
	s.writes++
	return nil
}

// Bytes returns a copy of the region contents.
func (s *Sim) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Restore overwrites the region with contents, padding with erased bytes.
func (s *Sim) Restore(contents []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(contents) > len(s.data) {
		return fmt.Errorf("flash: %d bytes do not fit in %d byte region", len(contents), len(s.data))
	}
	n := copy(s.data, contents)
	for i := n; i < len(s.data); i++ {
		s.data[i] = ErasedByte
	}
	return nil
}

// Stats returns the number of successful erase and write operations.
func (s *Sim) Stats() (erases, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.erases, s.writes
}
