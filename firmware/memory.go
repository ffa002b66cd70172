package firmware

import "encoding/binary"

// ErasedWord is the value of a 32-bit word of erased NOR flash.
const ErasedWord uint32 = 0xFFFFFFFF

// ErasedByte is the value of a byte of erased NOR flash.
const ErasedByte byte = 0xFF

// Memory is a bounded, read-only view of an application region. Offsets are
// relative to Base; every access is range checked.
type Memory interface {
	// Base returns the absolute address of offset 0.
	Base() uint32

	// Size returns the region length in bytes.
	Size() uint32

	// Word returns the little-endian 32-bit word at offset.
	Word(offset uint32) (uint32, error)

	// ReadAt fills p with the bytes starting at offset.
	ReadAt(p []byte, offset uint32) error
}

// CheckRange returns an *OutOfRangeError when [offset, offset+length) does not
// fit in size.
func CheckRange(offset, length, size uint32) error {
	if uint64(offset)+uint64(length) > uint64(size) {
		return &OutOfRangeError{Offset: offset, Length: length, Size: size}
	}
	return nil
}

// Image is a Memory backed by a byte slice.
type Image struct {
	base uint32
	data []byte
}

// NewImage wraps data as a region located at base. The slice is not copied.
func NewImage(base uint32, data []byte) *Image {
	return &Image{base: base, data: data}
}

func (m *Image) Base() uint32 { return m.base }
func (m *Image) Size() uint32 { return uint32(len(m.data)) }

func (m *Image) Word(offset uint32) (uint32, error) {
	if err := CheckRange(offset, 4, m.Size()); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *Image) ReadAt(p []byte, offset uint32) error {
	if err := CheckRange(offset, uint32(len(p)), m.Size()); err != nil {
		return err
	}
	copy(p, m.data[offset:])
	return nil
}
