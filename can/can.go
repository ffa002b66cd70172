// Package can defines the CAN transport collaborator consumed by the bootloader.
//
// The physical and link layers (bit timing, acceptance filters, mailboxes) are
// not implemented here. A board support package provides a Driver; tests and the
// simulator use the in-memory implementation in package vcan.
package can

import (
	"errors"
	"fmt"
)

// MaxDataLength is the payload capacity of a classic CAN frame.
const MaxDataLength = 8

// ExtendedIDMask masks the 29 bits of an extended CAN identifier.
const ExtendedIDMask = 0x1FFFFFFF

// ErrAutobaudTimeout is returned by Driver.Autobaud when the caller's deadline
// expires before a bit rate was detected.
var ErrAutobaudTimeout = errors.New("can: autobaud timed out")

// ErrTxFull is returned by Driver.Send when no transmit mailbox is free.
var ErrTxFull = errors.New("can: transmit mailboxes full")

// Frame is a classic CAN 2.0B frame with an extended identifier.
type Frame struct {
	// ID is the 29-bit extended identifier.
	ID uint32

	// Len is the number of valid bytes in Data (0-8).
	Len uint8

	// Data holds the frame payload.
	Data [MaxDataLength]byte
}

// NewFrame builds a frame from an identifier and up to eight payload bytes.
func NewFrame(id uint32, payload []byte) (Frame, error) {
	if len(payload) > MaxDataLength {
		return Frame{}, fmt.Errorf("can: payload length %d exceeds %d bytes", len(payload), MaxDataLength)
	}
	f := Frame{ID: id & ExtendedIDMask, Len: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, nil
}

// Payload returns the valid bytes of the frame.
func (f *Frame) Payload() []byte {
	return f.Data[:f.Len]
}

// Speed is a bus bit-rate tier. The numeric value is significant: each step
// doubles the bit rate, which the firmware streamer uses for rate limiting.
type Speed uint8

const (
	SpeedUnknown Speed = iota
	Speed125K
	Speed250K
	Speed500K
	Speed1M
)

// BitRate returns the bit rate in bits per second, or 0 for SpeedUnknown.
func (s Speed) BitRate() uint32 {
	switch s {
	case Speed125K:
		return 125000
	case Speed250K:
		return 250000
	case Speed500K:
		return 500000
	case Speed1M:
		return 1000000
	default:
		return 0
	}
}

func (s Speed) String() string {
	switch s {
	case Speed125K:
		return "125kbit/s"
	case Speed250K:
		return "250kbit/s"
	case Speed500K:
		return "500kbit/s"
	case Speed1M:
		return "1Mbit/s"
	default:
		return "unknown"
	}
}

// SpeedFromBitRate maps a bit rate to its tier. Unsupported rates map to SpeedUnknown.
func SpeedFromBitRate(bitRate uint32) Speed {
	switch bitRate {
	case 125000:
		return Speed125K
	case 250000:
		return Speed250K
	case 500000:
		return Speed500K
	case 1000000:
		return Speed1M
	default:
		return SpeedUnknown
	}
}

// FIFO identifies a hardware receive queue. Acceptance filters route frames
// into queues so that independent consumers never steal each other's frames.
type FIFO uint8

const (
	// FIFOAllocation receives dynamic node-id allocation messages.
	FIFOAllocation FIFO = iota

	// FIFONodeInfo receives GetNodeInfo service requests.
	FIFONodeInfo

	// FIFOTransfer receives everything else.
	FIFOTransfer

	// NumFIFOs is the number of receive queues.
	NumFIFOs
)

// Classifier selects the receive queue for a frame identifier, playing the role
// of the controller's acceptance filter bank.
type Classifier func(id uint32) FIFO

// Driver is the CAN controller collaborator. All calls are non-blocking except
// Autobaud, which polls expired on every iteration and gives up when it reports true.
type Driver interface {
	// Init configures the controller for the given bit rate in normal mode.
	Init(speed Speed) error

	// Autobaud listens in silent mode until a valid frame is seen at one of the
	// supported bit rates, then leaves the controller initialised at that rate.
	Autobaud(expired func() bool) (Speed, error)

	// Send queues a frame for transmission.
	Send(f Frame) error

	// Receive pops the oldest frame from the given queue, if any.
	Receive(fifo FIFO) (Frame, bool)
}
