package protocol

import (
	"encoding/binary"
	"fmt"
)

// putUint40 writes the low 40 bits of v little-endian.
func putUint40(b []byte, v uint64) {
	for i := 0; i < 5; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// EncodeAllocation serialises an allocation message.
//
// Layout:
//
//	[NODE_ID(7 bits) FIRST_PART(1 bit)][UNIQUE_ID(0..16)]
func EncodeAllocation(a *Allocation) ([]byte, error) {
	if a == nil {
		return nil, ErrInvalidArgument
	}
	if a.NodeID > MaxNodeID {
		return nil, ErrInvalidNodeID
	}
	if len(a.UniqueID) > UniqueIDLength {
		return nil, fmt.Errorf("unique id length %d exceeds %d bytes", len(a.UniqueID), UniqueIDLength)
	}

	payload := make([]byte, 0, 1+len(a.UniqueID))
	head := a.NodeID << 1
	if a.FirstPartOfUniqueID {
		head |= 1
	}
	payload = append(payload, head)
	payload = append(payload, a.UniqueID...)
	return payload, nil
}

// EncodeNodeStatus serialises a NodeStatus message (NodeStatusLength bytes).
//
// Layout:
//
//	[UPTIME(4)][HEALTH(2 bits) MODE(3 bits) SUB_MODE(3 bits)][VENDOR(2)]
func EncodeNodeStatus(s NodeStatus) []byte {
	payload := make([]byte, NodeStatusLength)
	putNodeStatus(payload, s)
	return payload
}

func putNodeStatus(b []byte, s NodeStatus) {
	binary.LittleEndian.PutUint32(b[0:4], s.UptimeSec)
	b[4] = (s.Health&0x3)<<6 | (s.Mode&0x7)<<3 | s.SubMode&0x7
	binary.LittleEndian.PutUint16(b[5:7], s.VendorSpecificCode)
}

// EncodeGetNodeInfoResponse serialises a GetNodeInfo response.
//
// Layout:
//
//	[NODE_STATUS(7)][SW_MAJOR][SW_MINOR][SW_FLAGS][VCS_COMMIT(4)][IMAGE_CRC(8)]
//	[HW_MAJOR][HW_MINOR][UNIQUE_ID(16)][COA_LEN][COA...][NAME...]
func EncodeGetNodeInfoResponse(r *GetNodeInfoResponse) ([]byte, error) {
	if r == nil {
		return nil, ErrInvalidArgument
	}
	if len(r.HardwareVersion.Certificate) > MaxCertificateLength {
		return nil, fmt.Errorf("certificate length %d exceeds %d bytes", len(r.HardwareVersion.Certificate), MaxCertificateLength)
	}
	if len(r.Name) > MaxNameLength {
		return nil, fmt.Errorf("name length %d exceeds %d bytes", len(r.Name), MaxNameLength)
	}

	fixed := NodeStatusLength + SoftwareVersionLength + 2 + UniqueIDLength + 1
	payload := make([]byte, fixed, fixed+len(r.HardwareVersion.Certificate)+len(r.Name))

	putNodeStatus(payload[0:NodeStatusLength], r.Status)

	sw := payload[NodeStatusLength:]
	sw[0] = r.SoftwareVersion.Major
	sw[1] = r.SoftwareVersion.Minor
	sw[2] = r.SoftwareVersion.OptionalFieldFlags
	binary.LittleEndian.PutUint32(sw[3:7], r.SoftwareVersion.VCSCommit)
	binary.LittleEndian.PutUint64(sw[7:15], r.SoftwareVersion.ImageCRC)

	hw := payload[NodeStatusLength+SoftwareVersionLength:]
	hw[0] = r.HardwareVersion.Major
	hw[1] = r.HardwareVersion.Minor
	copy(hw[2:2+UniqueIDLength], r.HardwareVersion.UniqueID[:])
	hw[2+UniqueIDLength] = byte(len(r.HardwareVersion.Certificate))

	payload = append(payload, r.HardwareVersion.Certificate...)
	payload = append(payload, r.Name...)
	return payload, nil
}

// EncodeBeginFirmwareUpdateRequest serialises a BeginFirmwareUpdate request.
//
// Layout:
//
//	[SOURCE_NODE_ID][PATH...]
func EncodeBeginFirmwareUpdateRequest(r *BeginFirmwareUpdateRequest) ([]byte, error) {
	if r == nil {
		return nil, ErrInvalidArgument
	}
	if err := checkPath(r.Path); err != nil {
		return nil, err
	}
	payload := make([]byte, 0, 1+len(r.Path))
	payload = append(payload, r.SourceNodeID)
	payload = append(payload, r.Path...)
	return payload, nil
}

// EncodeBeginFirmwareUpdateResponse serialises a BeginFirmwareUpdate response.
//
// Layout:
//
//	[ERROR][MESSAGE...]
func EncodeBeginFirmwareUpdateResponse(r *BeginFirmwareUpdateResponse) ([]byte, error) {
	if r == nil {
		return nil, ErrInvalidArgument
	}
	if len(r.ErrorMessage) > MaxErrorMessageLength {
		return nil, fmt.Errorf("error message length %d exceeds %d bytes", len(r.ErrorMessage), MaxErrorMessageLength)
	}
	payload := make([]byte, 0, 1+len(r.ErrorMessage))
	payload = append(payload, r.Error)
	payload = append(payload, r.ErrorMessage...)
	return payload, nil
}

// EncodeGetInfoRequest serialises a file GetInfo request, which is just the path.
func EncodeGetInfoRequest(path []byte) ([]byte, error) {
	if err := checkPath(path); err != nil {
		return nil, err
	}
	payload := make([]byte, len(path))
	copy(payload, path)
	return payload, nil
}

// EncodeGetInfoResponse serialises a file GetInfo response.
//
// Layout:
//
//	[SIZE(5)][ERROR(2)][ENTRY_TYPE]
func EncodeGetInfoResponse(r *GetInfoResponse) []byte {
	payload := make([]byte, GetInfoResponseLength)
	putUint40(payload[0:5], r.Size)
	binary.LittleEndian.PutUint16(payload[5:7], uint16(r.Error))
	payload[7] = r.EntryType
	return payload
}

// EncodeReadRequest serialises a file Read request.
//
// Layout:
//
//	[OFFSET(5)][PATH...]
func EncodeReadRequest(r *ReadRequest) ([]byte, error) {
	if r == nil {
		return nil, ErrInvalidArgument
	}
	if err := checkPath(r.Path); err != nil {
		return nil, err
	}
	payload := make([]byte, ReadRequestFixedLength, ReadRequestFixedLength+len(r.Path))
	putUint40(payload, r.Offset)
	payload = append(payload, r.Path...)
	return payload, nil
}

// EncodeReadResponse serialises a file Read response.
//
// Layout:
//
//	[ERROR(2)][DATA(0..256)]
func EncodeReadResponse(r *ReadResponse) ([]byte, error) {
	if r == nil {
		return nil, ErrInvalidArgument
	}
	if len(r.Data) > MaxReadDataLength {
		return nil, fmt.Errorf("data length %d exceeds %d bytes", len(r.Data), MaxReadDataLength)
	}
	payload := make([]byte, ReadResponseFixedLength, ReadResponseFixedLength+len(r.Data))
	binary.LittleEndian.PutUint16(payload, uint16(r.Error))
	payload = append(payload, r.Data...)
	return payload, nil
}

// EncodeLogMessage serialises a LogMessage. Over-long text is truncated.
//
// Layout:
//
//	[LEVEL(3 bits) SOURCE_LEN(5 bits)][SOURCE...][TEXT...]
func EncodeLogMessage(m *LogMessage) ([]byte, error) {
	if m == nil {
		return nil, ErrInvalidArgument
	}
	if len(m.Source) > MaxLogSourceLength {
		return nil, fmt.Errorf("log source length %d exceeds %d bytes", len(m.Source), MaxLogSourceLength)
	}
	text := m.Text
	if len(text) > MaxLogTextLength {
		text = text[:MaxLogTextLength]
	}
	payload := make([]byte, 0, 1+len(m.Source)+len(text))
	payload = append(payload, (m.Level&0x7)<<5|byte(len(m.Source)))
	payload = append(payload, m.Source...)
	payload = append(payload, text...)
	return payload, nil
}

func checkPath(path []byte) error {
	if len(path) > MaxPathLength {
		return fmt.Errorf("path length %d exceeds %d bytes", len(path), MaxPathLength)
	}
	return nil
}
