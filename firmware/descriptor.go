package firmware

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DescriptorSignature marks the start of an application descriptor.
	DescriptorSignature = "APDesc00"

	// DescriptorSize is the encoded length of an ApplicationDescriptor.
	DescriptorSize = 32

	// DescriptorAlignment is the alignment the descriptor is searched at.
	DescriptorAlignment = 8

	// descriptorCRCOffset is the position of the image CRC inside the descriptor.
	descriptorCRCOffset = 8
)

// ApplicationDescriptor identifies an application image.
type ApplicationDescriptor struct {
	// ImageCRC is the CRC-64-WE of the image with this field zeroed.
	ImageCRC uint64

	// ImageSize is the number of image bytes covered by ImageCRC.
	ImageSize uint32

	// VCSCommit is the version control revision the image was built from.
	VCSCommit uint32

	Major uint8
	Minor uint8
}

// ParseDescriptor decodes a descriptor, including its signature.
func ParseDescriptor(b []byte) (*ApplicationDescriptor, error) {
	if len(b) < DescriptorSize {
		return nil, fmt.Errorf("descriptor too short: %d bytes", len(b))
	}
	if string(b[:len(DescriptorSignature)]) != DescriptorSignature {
		return nil, ErrDescriptorNotFound
	}
	return &ApplicationDescriptor{
		ImageCRC:  binary.LittleEndian.Uint64(b[8:16]),
		ImageSize: binary.LittleEndian.Uint32(b[16:20]),
		VCSCommit: binary.LittleEndian.Uint32(b[20:24]),
		Major:     b[24],
		Minor:     b[25],
	}, nil
}

// Bytes encodes the descriptor with its signature.
func (d *ApplicationDescriptor) Bytes() []byte {
	b := make([]byte, DescriptorSize)
	copy(b, DescriptorSignature)
	binary.LittleEndian.PutUint64(b[8:16], d.ImageCRC)
	binary.LittleEndian.PutUint32(b[16:20], d.ImageSize)
	binary.LittleEndian.PutUint32(b[20:24], d.VCSCommit)
	b[24] = d.Major
	b[25] = d.Minor
	return b
}

// LocateDescriptor returns the offset and contents of the first descriptor
// found at an aligned offset. A signature that is not 8-byte aligned is ignored.
func LocateDescriptor(mem Memory) (uint32, *ApplicationDescriptor, error) {
	size := mem.Size()
	sig := []byte(DescriptorSignature)
	var word [DescriptorAlignment]byte

	for offset := uint32(0); uint64(offset)+DescriptorAlignment <= uint64(size); offset += DescriptorAlignment {
		if err := mem.ReadAt(word[:], offset); err != nil {
			return 0, nil, err
		}
		if !bytes.Equal(word[:], sig) {
			continue
		}

		raw := make([]byte, DescriptorSize)
		if err := mem.ReadAt(raw, offset); err != nil {
			var oor *OutOfRangeError
			if errors.As(err, &oor) {
				// Signature in the last bytes of the region without room for the rest.
				continue
			}
			return 0, nil, err
		}
		d, err := ParseDescriptor(raw)
		if err != nil {
			return 0, nil, err
		}
		return offset, d, nil
	}
	return 0, nil, ErrDescriptorNotFound
}
