package protocol

import (
	"fmt"

	"github.com/moffa90/go-canboot/can"
)

// CAN identifier bit layout.
const (
	offsetPriority      = 24
	offsetMessageType   = 8
	offsetDiscriminator = 10
	offsetServiceType   = 16
	offsetDestination   = 8

	flagServiceNotMessage  = 1 << 7
	flagRequestNotResponse = 1 << 15

	priorityMask      = 0x1F
	messageTypeMask   = 0xFFFF
	serviceTypeMask   = 0xFF
	anonTypeMask      = 0x3
	discriminatorMask = 0x3FFF
	nodeIDMask        = 0x7F
)

// Encode packs the header into a 29-bit CAN identifier.
func (h Header) Encode() (uint32, error) {
	if h.Priority > PriorityLowest {
		return 0, fmt.Errorf("%w: priority %d", ErrInvalidArgument, h.Priority)
	}
	id := uint32(h.Priority) << offsetPriority

	switch h.Kind {
	case KindMessage:
		if h.Source == AnonymousNodeID || h.Source > MaxNodeID {
			return 0, ErrInvalidNodeID
		}
		id |= uint32(h.DataTypeID) << offsetMessageType
		id |= uint32(h.Source)
	case KindAnonymous:
		id |= uint32(h.Discriminator&discriminatorMask) << offsetDiscriminator
		id |= uint32(h.DataTypeID&anonTypeMask) << offsetMessageType
	case KindRequest, KindResponse:
		if h.DataTypeID > serviceTypeMask {
			return 0, fmt.Errorf("%w: service type id %d", ErrInvalidArgument, h.DataTypeID)
		}
		if h.Source == AnonymousNodeID || h.Source > MaxNodeID ||
			h.Destination == AnonymousNodeID || h.Destination > MaxNodeID {
			return 0, ErrInvalidNodeID
		}
		id |= uint32(h.DataTypeID) << offsetServiceType
		if h.Kind == KindRequest {
			id |= flagRequestNotResponse
		}
		id |= uint32(h.Destination) << offsetDestination
		id |= flagServiceNotMessage
		id |= uint32(h.Source)
	default:
		return 0, fmt.Errorf("%w: kind %d", ErrInvalidArgument, h.Kind)
	}
	return id, nil
}

// ParseHeader decodes a 29-bit CAN identifier.
func ParseHeader(id uint32) Header {
	id &= can.ExtendedIDMask
	h := Header{
		Priority: uint8((id >> offsetPriority) & priorityMask),
		Source:   uint8(id & nodeIDMask),
	}
	if id&flagServiceNotMessage != 0 {
		h.Kind = KindResponse
		if id&flagRequestNotResponse != 0 {
			h.Kind = KindRequest
		}
		h.DataTypeID = uint16((id >> offsetServiceType) & serviceTypeMask)
		h.Destination = uint8((id >> offsetDestination) & nodeIDMask)
		return h
	}
	if h.Source == AnonymousNodeID {
		h.Kind = KindAnonymous
		h.DataTypeID = uint16((id >> offsetMessageType) & anonTypeMask)
		h.Discriminator = uint16((id >> offsetDiscriminator) & discriminatorMask)
		return h
	}
	h.Kind = KindMessage
	h.DataTypeID = uint16((id >> offsetMessageType) & messageTypeMask)
	return h
}

// Is reports whether the header carries the given kind and data type. An
// anonymous header matches a message type on its two transmitted id bits.
func (h Header) Is(kind Kind, dataTypeID uint16) bool {
	switch {
	case kind == KindMessage && h.Kind == KindAnonymous:
		return h.DataTypeID == dataTypeID&anonTypeMask
	default:
		return h.Kind == kind && h.DataTypeID == dataTypeID
	}
}

// IsAllocation reports whether the header belongs to an allocation message,
// either an anonymous request or an allocator response.
func (h Header) IsAllocation() bool {
	return h.Is(KindMessage, AllocationID)
}

// Classify is the acceptance filter bank of a bootloader node: allocation
// traffic, identity queries and everything else go to separate queues.
func Classify(id uint32) can.FIFO {
	h := ParseHeader(id)
	switch {
	case h.IsAllocation():
		return can.FIFOAllocation
	case h.Is(KindRequest, GetNodeInfoID):
		return can.FIFONodeInfo
	default:
		return can.FIFOTransfer
	}
}

// Signature returns the data type signature for a kind and type id.
func Signature(kind Kind, dataTypeID uint16) (uint64, error) {
	if kind.IsService() {
		switch dataTypeID {
		case GetNodeInfoID:
			return GetNodeInfoSignature, nil
		case BeginFirmwareUpdateID:
			return BeginFirmwareUpdateSignature, nil
		case GetInfoID:
			return GetInfoSignature, nil
		case ReadID:
			return ReadSignature, nil
		}
		return 0, fmt.Errorf("%w: service %d", ErrUnknownDataType, dataTypeID)
	}
	switch dataTypeID {
	case AllocationID:
		return AllocationSignature, nil
	case NodeStatusID:
		return NodeStatusSignature, nil
	case LogMessageID:
		return LogMessageSignature, nil
	}
	return 0, fmt.Errorf("%w: message %d", ErrUnknownDataType, dataTypeID)
}
