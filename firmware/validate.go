package firmware

import (
	"encoding/binary"
	"errors"

	"github.com/moffa90/go-canboot/protocol"
)

// Validation is the result of IsAppValid.
type Validation struct {
	// Valid is true only when the image CRC matched.
	Valid bool

	// Descriptor is the located descriptor, nil when none was found.
	Descriptor *ApplicationDescriptor

	// Offset is the descriptor position relative to the image base.
	Offset uint32

	// Err explains why the image is invalid.
	Err error
}

// IsAppValid decides whether the image in mem is safe to boot. firstWord
// replaces the word at offset 0, which may not be programmed yet. maxSize is
// the capacity of the application region.
func IsAppValid(mem Memory, firstWord uint32, maxSize uint32) Validation {
	offset, desc, err := LocateDescriptor(mem)
	if err != nil {
		return Validation{Err: err}
	}
	v := Validation{Descriptor: desc, Offset: offset}

	if firstWord == ErasedWord {
		v.Err = ErrErasedFirstWord
		return v
	}
	if desc.ImageSize > maxSize {
		v.Err = &ImageTooLargeError{Size: desc.ImageSize, MaxSize: maxSize}
		return v
	}

	crc, err := imageCRC(mem, firstWord, offset, desc.ImageSize)
	if err != nil {
		v.Err = err
		return v
	}
	if crc != desc.ImageCRC {
		v.Err = &CRCMismatchError{Expected: desc.ImageCRC, Actual: crc}
		return v
	}
	v.Valid = true
	return v
}

// imageCRC computes the descriptor CRC over size/4 words of mem.
func imageCRC(mem Memory, firstWord, descOffset, size uint32) (uint64, error) {
	crcWord := (descOffset + descriptorCRCOffset) / 4
	words := size / 4

	crc := protocol.NewCRC64().AddWord(firstWord)
	for i := uint32(1); i < words; i++ {
		var w uint32
		if i != crcWord && i != crcWord+1 {
			var err error
			if w, err = mem.Word(i * 4); err != nil {
				return 0, err
			}
		}
		crc = crc.AddWord(w)
	}
	return crc.Sum(), nil
}

// Stamp fills the size and CRC fields of the descriptor embedded in image so
// that the image validates. ImageSize is set to len(image).
func Stamp(image []byte) (*ApplicationDescriptor, error) {
	if len(image) < 4+DescriptorSize {
		return nil, ErrImageTooShort
	}
	mem := NewImage(0, image)
	offset, desc, err := LocateDescriptor(mem)
	if err != nil {
		return nil, err
	}

	desc.ImageSize = uint32(len(image))
	binary.LittleEndian.PutUint32(image[offset+16:], desc.ImageSize)

	firstWord := binary.LittleEndian.Uint32(image)
	crc, err := imageCRC(mem, firstWord, offset, desc.ImageSize)
	if err != nil {
		return nil, err
	}
	desc.ImageCRC = crc
	binary.LittleEndian.PutUint64(image[offset+descriptorCRCOffset:], crc)
	return desc, nil
}

// IsNotFound reports whether err means the image has no descriptor.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDescriptorNotFound)
}
