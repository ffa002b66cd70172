package protocol

import (
	"encoding/binary"
	"fmt"
)

func uint40(b []byte) uint64 {
	var v uint64
	for i := 4; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// ParseAllocation decodes an allocation message payload.
func ParseAllocation(data []byte) (*Allocation, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: allocation needs at least 1 byte", ErrPayloadTooShort)
	}
	if len(data) > 1+UniqueIDLength {
		return nil, fmt.Errorf("%w: allocation of %d bytes", ErrPayloadTooLong, len(data))
	}
	a := &Allocation{
		NodeID:              data[0] >> 1,
		FirstPartOfUniqueID: data[0]&1 != 0,
		UniqueID:            make([]byte, len(data)-1),
	}
	copy(a.UniqueID, data[1:])
	return a, nil
}

// ParseNodeStatus decodes a NodeStatus message payload.
func ParseNodeStatus(data []byte) (*NodeStatus, error) {
	if len(data) < NodeStatusLength {
		return nil, fmt.Errorf("%w: node status needs %d bytes, got %d", ErrPayloadTooShort, NodeStatusLength, len(data))
	}
	return &NodeStatus{
		UptimeSec:          binary.LittleEndian.Uint32(data[0:4]),
		Health:             data[4] >> 6,
		Mode:               (data[4] >> 3) & 0x7,
		SubMode:            data[4] & 0x7,
		VendorSpecificCode: binary.LittleEndian.Uint16(data[5:7]),
	}, nil
}

// ParseGetNodeInfoResponse decodes a GetNodeInfo response payload.
func ParseGetNodeInfoResponse(data []byte) (*GetNodeInfoResponse, error) {
	fixed := NodeStatusLength + SoftwareVersionLength + 2 + UniqueIDLength + 1
	if len(data) < fixed {
		return nil, fmt.Errorf("%w: node info needs %d bytes, got %d", ErrPayloadTooShort, fixed, len(data))
	}
	status, err := ParseNodeStatus(data)
	if err != nil {
		return nil, err
	}

	r := &GetNodeInfoResponse{Status: *status}

	sw := data[NodeStatusLength:]
	r.SoftwareVersion = SoftwareVersion{
		Major:              sw[0],
		Minor:              sw[1],
		OptionalFieldFlags: sw[2],
		VCSCommit:          binary.LittleEndian.Uint32(sw[3:7]),
		ImageCRC:           binary.LittleEndian.Uint64(sw[7:15]),
	}

	hw := data[NodeStatusLength+SoftwareVersionLength:]
	r.HardwareVersion.Major = hw[0]
	r.HardwareVersion.Minor = hw[1]
	copy(r.HardwareVersion.UniqueID[:], hw[2:2+UniqueIDLength])

	coaLen := int(hw[2+UniqueIDLength])
	rest := data[fixed:]
	if len(rest) < coaLen {
		return nil, fmt.Errorf("%w: certificate of %d bytes truncated", ErrPayloadTooShort, coaLen)
	}
	if coaLen > 0 {
		r.HardwareVersion.Certificate = make([]byte, coaLen)
		copy(r.HardwareVersion.Certificate, rest[:coaLen])
	}
	r.Name = string(rest[coaLen:])
	return r, nil
}

// ParseBeginFirmwareUpdateRequest decodes a BeginFirmwareUpdate request payload.
func ParseBeginFirmwareUpdateRequest(data []byte) (*BeginFirmwareUpdateRequest, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: begin firmware update needs at least 1 byte", ErrPayloadTooShort)
	}
	if err := checkPath(data[1:]); err != nil {
		return nil, err
	}
	r := &BeginFirmwareUpdateRequest{
		SourceNodeID: data[0],
		Path:         make([]byte, len(data)-1),
	}
	copy(r.Path, data[1:])
	return r, nil
}

// ParseBeginFirmwareUpdateResponse decodes a BeginFirmwareUpdate response payload.
func ParseBeginFirmwareUpdateResponse(data []byte) (*BeginFirmwareUpdateResponse, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: begin firmware update response needs at least 1 byte", ErrPayloadTooShort)
	}
	return &BeginFirmwareUpdateResponse{
		Error:        data[0],
		ErrorMessage: string(data[1:]),
	}, nil
}

// ParseGetInfoRequest decodes a file GetInfo request payload into its path.
func ParseGetInfoRequest(data []byte) ([]byte, error) {
	if err := checkPath(data); err != nil {
		return nil, err
	}
	path := make([]byte, len(data))
	copy(path, data)
	return path, nil
}

// ParseGetInfoResponse decodes a file GetInfo response payload.
func ParseGetInfoResponse(data []byte) (*GetInfoResponse, error) {
	if len(data) < GetInfoResponseLength {
		return nil, fmt.Errorf("%w: get info response needs %d bytes, got %d", ErrPayloadTooShort, GetInfoResponseLength, len(data))
	}
	return &GetInfoResponse{
		Size:      uint40(data[0:5]),
		Error:     int16(binary.LittleEndian.Uint16(data[5:7])),
		EntryType: data[7],
	}, nil
}

// ParseReadRequest decodes a file Read request payload.
func ParseReadRequest(data []byte) (*ReadRequest, error) {
	if len(data) < ReadRequestFixedLength {
		return nil, fmt.Errorf("%w: read request needs %d bytes, got %d", ErrPayloadTooShort, ReadRequestFixedLength, len(data))
	}
	if err := checkPath(data[ReadRequestFixedLength:]); err != nil {
		return nil, err
	}
	r := &ReadRequest{
		Offset: uint40(data[0:5]),
		Path:   make([]byte, len(data)-ReadRequestFixedLength),
	}
	copy(r.Path, data[ReadRequestFixedLength:])
	return r, nil
}

// ParseReadResponse decodes a file Read response payload.
func ParseReadResponse(data []byte) (*ReadResponse, error) {
	if len(data) < ReadResponseFixedLength {
		return nil, fmt.Errorf("%w: read response needs %d bytes, got %d", ErrPayloadTooShort, ReadResponseFixedLength, len(data))
	}
	if len(data)-ReadResponseFixedLength > MaxReadDataLength {
		return nil, fmt.Errorf("%w: read response carries %d bytes", ErrPayloadTooLong, len(data)-ReadResponseFixedLength)
	}
	r := &ReadResponse{
		Error: int16(binary.LittleEndian.Uint16(data[0:2])),
		Data:  make([]byte, len(data)-ReadResponseFixedLength),
	}
	copy(r.Data, data[ReadResponseFixedLength:])
	return r, nil
}

// ParseLogMessage decodes a LogMessage payload.
func ParseLogMessage(data []byte) (*LogMessage, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: log message needs at least 1 byte", ErrPayloadTooShort)
	}
	srcLen := int(data[0] & 0x1F)
	if len(data) < 1+srcLen {
		return nil, fmt.Errorf("%w: log source of %d bytes truncated", ErrPayloadTooShort, srcLen)
	}
	return &LogMessage{
		Level:  data[0] >> 5,
		Source: string(data[1 : 1+srcLen]),
		Text:   string(data[1+srcLen:]),
	}, nil
}
