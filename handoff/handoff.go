// Package handoff implements the record shared between the bootloader and the
// application across a reset.
//
// The application writes a record before rebooting into the bootloader to ask
// for a firmware update on a known bus; the bootloader writes one before
// jumping to the application when it allocated a fresh node id.
//
// Layout (little-endian, 20 bytes):
//
//	[SIGNATURE(4)][BUS_BIT_RATE(4)][NODE_ID(4)][CRC64(8)]
//
// CRC64 is CRC-64-WE over the first three words. The signature tells which
// side wrote the record.
package handoff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/moffa90/go-canboot/protocol"
)

// RecordSize is the encoded size of a record.
const RecordSize = 20

// Role identifies the writer of a record.
type Role uint32

const (
	// RoleApplication marks a record written by the application.
	RoleApplication Role = 0xB0A04150

	// RoleBootloader marks a record written by the bootloader.
	RoleBootloader Role = 0xB0A0424C
)

func (r Role) String() string {
	switch r {
	case RoleApplication:
		return "application"
	case RoleBootloader:
		return "bootloader"
	default:
		return fmt.Sprintf("unknown(0x%08X)", uint32(r))
	}
}

var (
	// ErrWrongRole is returned when a record was written by the other side
	// or the region holds no record at all.
	ErrWrongRole = errors.New("handoff: record signature does not match")

	// ErrCorrupt is returned when the record CRC does not match.
	ErrCorrupt = errors.New("handoff: record CRC mismatch")
)

// Record carries the bus parameters across the reset.
type Record struct {
	// BusBitRate is the CAN bit rate in bits per second.
	BusBitRate uint32

	// NodeID is the node id in use on that bus.
	NodeID uint32
}

// Region is the memory the record lives in, typically a reserved RAM area or
// backup registers that survive a reset.
type Region interface {
	Load() ([RecordSize]byte, error)
	Store(b [RecordSize]byte) error
}

func recordCRC(sig, bitRate, nodeID uint32) uint64 {
	return protocol.NewCRC64().AddWord(sig).AddWord(bitRate).AddWord(nodeID).Sum()
}

// Encode serialises a record for role.
func Encode(rec Record, role Role) [RecordSize]byte {
	var b [RecordSize]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(role))
	binary.LittleEndian.PutUint32(b[4:8], rec.BusBitRate)
	binary.LittleEndian.PutUint32(b[8:12], rec.NodeID)
	binary.LittleEndian.PutUint64(b[12:20], recordCRC(uint32(role), rec.BusBitRate, rec.NodeID))
	return b
}

// Decode parses a record and checks that role wrote it.
func Decode(b [RecordSize]byte, role Role) (Record, error) {
	sig := binary.LittleEndian.Uint32(b[0:4])
	if Role(sig) != role {
		return Record{}, fmt.Errorf("%w: got %v, want %v", ErrWrongRole, Role(sig), role)
	}
	rec := Record{
		BusBitRate: binary.LittleEndian.Uint32(b[4:8]),
		NodeID:     binary.LittleEndian.Uint32(b[8:12]),
	}
	if binary.LittleEndian.Uint64(b[12:20]) != recordCRC(sig, rec.BusBitRate, rec.NodeID) {
		return Record{}, ErrCorrupt
	}
	return rec, nil
}

// Read loads and decodes the record in region.
func Read(region Region, role Role) (Record, error) {
	b, err := region.Load()
	if err != nil {
		return Record{}, fmt.Errorf("handoff: load: %w", err)
	}
	return Decode(b, role)
}

// Write stores rec in region on behalf of role.
func Write(region Region, rec Record, role Role) error {
	if err := region.Store(Encode(rec, role)); err != nil {
		return fmt.Errorf("handoff: store: %w", err)
	}
	return nil
}

// Invalidate clears region so that a record is never consumed twice.
func Invalidate(region Region) error {
	if err := region.Store([RecordSize]byte{}); err != nil {
		return fmt.Errorf("handoff: invalidate: %w", err)
	}
	return nil
}

// MemoryRegion is a Region held in memory. The zero value holds no record.
type MemoryRegion struct {
	mu  sync.Mutex
	buf [RecordSize]byte
}

func (m *MemoryRegion) Load() ([RecordSize]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf, nil
}

func (m *MemoryRegion) Store(b [RecordSize]byte) error {
	m.mu.Lock()
	m.buf = b
	m.mu.Unlock()
	return nil
}
