package simboard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"

	"github.com/moffa90/go-canboot/handoff"
	"github.com/moffa90/go-canboot/protocol"
)

// encMode uses Core Deterministic Encoding: the same board state always
// produces identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("simboard: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("simboard: CBOR decoder initialization failed: " + err.Error())
	}
}

// ErrUniqueIDMismatch is returned by Load when the saved state belongs to
// another board.
var ErrUniqueIDMismatch = errors.New("simboard: saved state belongs to another board")

// snapshot is the persisted part of a board: what survives a power cycle on
// hardware plus the lifetime counters.
type snapshot struct {
	UniqueID  []byte `cbor:"1,keyasint"`
	FlashBase uint32 `cbor:"2,keyasint"`
	Flash     []byte `cbor:"3,keyasint"`
	Handoff   []byte `cbor:"4,keyasint"`
	Boots     uint32 `cbor:"5,keyasint"`
	Resets    uint32 `cbor:"6,keyasint"`
}

// MarshalState encodes the board state.
func (b *Board) MarshalState() ([]byte, error) {
	b.mu.Lock()
	s := snapshot{
		UniqueID:  b.hw.UniqueID[:],
		FlashBase: b.flash.Base(),
		Flash:     b.flash.Bytes(),
		Handoff:   append([]byte(nil), b.handoff[:]...),
		Boots:     b.boots,
		Resets:    b.resets,
	}
	b.mu.Unlock()
	return encMode.Marshal(&s)
}

// UnmarshalState restores state produced by MarshalState. The flash base
// and unique id must match the board's.
func (b *Board) UnmarshalState(data []byte) error {
	var s snapshot
	if err := decMode.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("simboard: decoding state: %w", err)
	}
	if len(s.UniqueID) != protocol.UniqueIDLength || [protocol.UniqueIDLength]byte(s.UniqueID) != b.hw.UniqueID {
		return ErrUniqueIDMismatch
	}
	if s.FlashBase != b.flash.Base() {
		return fmt.Errorf("simboard: saved flash starts at 0x%08X, board at 0x%08X", s.FlashBase, b.flash.Base())
	}
	if len(s.Handoff) != handoff.RecordSize {
		return fmt.Errorf("simboard: handoff region is %d bytes, want %d", len(s.Handoff), handoff.RecordSize)
	}
	if err := b.flash.Restore(s.Flash); err != nil {
		return err
	}

	b.mu.Lock()
	copy(b.handoff[:], s.Handoff)
	b.boots = s.Boots
	b.resets = s.Resets
	b.mu.Unlock()
	return nil
}

// SaveState writes the board state to path. The file is replaced atomically.
func (b *Board) SaveState(path string) error {
	data, err := b.MarshalState()
	if err != nil {
		return fmt.Errorf("simboard: encoding state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("simboard: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("simboard: writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("simboard: writing state: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadState restores the board state saved at path. A missing file leaves the
// board in its power-on state: erased flash, empty handoff region.
func (b *Board) LoadState(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("simboard: %w", err)
	}
	return b.UnmarshalState(data)
}
