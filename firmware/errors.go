package firmware

import (
	"errors"
	"fmt"
)

var (
	// ErrDescriptorNotFound is returned when no aligned descriptor signature exists.
	ErrDescriptorNotFound = errors.New("application descriptor not found")

	// ErrErasedFirstWord is returned when the first image word reads as erased flash.
	ErrErasedFirstWord = errors.New("first image word is erased")

	// ErrImageTooShort is returned when an image cannot hold a first word and a descriptor.
	ErrImageTooShort = errors.New("image too short")
)

// OutOfRangeError is returned for memory accesses outside the addressable region.
type OutOfRangeError struct {
	Offset uint32
	Length uint32
	Size   uint32
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("access of %d bytes at offset 0x%X outside %d byte region", e.Length, e.Offset, e.Size)
}

// ImageTooLargeError is returned when a descriptor declares a size beyond the
// application region.
type ImageTooLargeError struct {
	Size    uint32
	MaxSize uint32
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image size %d exceeds maximum %d", e.Size, e.MaxSize)
}

// CRCMismatchError is returned when the computed image CRC differs from the descriptor.
type CRCMismatchError struct {
	Expected uint64
	Actual   uint64
}

func (e *CRCMismatchError) Error() string {
	return fmt.Sprintf("image CRC mismatch: expected 0x%016X, got 0x%016X", e.Expected, e.Actual)
}
