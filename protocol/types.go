package protocol

// Kind distinguishes the four transfer kinds carried on the bus.
type Kind uint8

const (
	// KindMessage is a broadcast from an addressed node.
	KindMessage Kind = iota

	// KindAnonymous is a single-frame broadcast from a node without an id.
	KindAnonymous

	// KindRequest is a service request from client to server.
	KindRequest

	// KindResponse is a service response from server to client.
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindAnonymous:
		return "anonymous"
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "unknown"
	}
}

// IsService reports whether the kind is a request or a response.
func (k Kind) IsService() bool { return k == KindRequest || k == KindResponse }

// Header is the decoded content of a 29-bit CAN identifier.
type Header struct {
	// Priority ranges 0 (highest) to 31 (lowest).
	Priority uint8

	// Kind is the transfer kind.
	Kind Kind

	// DataTypeID is the message or service type id. For anonymous frames only
	// the two least significant bits are carried on the wire.
	DataTypeID uint16

	// Source is the sending node id (0 for anonymous frames).
	Source uint8

	// Destination is the addressed node id for service transfers.
	Destination uint8

	// Discriminator disambiguates anonymous senders (14 bits).
	Discriminator uint16
}

// Tail is the last byte of every frame payload and carries transfer framing.
type Tail byte

func (t Tail) IsStart() bool       { return t&TailStartOfTransfer != 0 }
func (t Tail) IsEnd() bool         { return t&TailEndOfTransfer != 0 }
func (t Tail) IsToggled() bool     { return t&TailToggle != 0 }
func (t Tail) TransferID() uint8   { return uint8(t & TailTransferIDMask) }
func (t Tail) IsSingleFrame() bool { return t.IsStart() && t.IsEnd() }

// MakeTail assembles a tail byte.
func MakeTail(start, end, toggle bool, transferID uint8) Tail {
	t := Tail(transferID & TailTransferIDMask)
	if toggle {
		t |= TailToggle
	}
	if end {
		t |= TailEndOfTransfer
	}
	if start {
		t |= TailStartOfTransfer
	}
	return t
}

// HardwareVersion describes the board. UniqueID identifies the physical node.
type HardwareVersion struct {
	Major    uint8
	Minor    uint8
	UniqueID [UniqueIDLength]byte

	// Certificate is the optional certificate of authenticity.
	Certificate []byte
}

// SoftwareVersion describes the resident application.
type SoftwareVersion struct {
	Major uint8
	Minor uint8

	// OptionalFieldFlags tells which of VCSCommit and ImageCRC are meaningful.
	OptionalFieldFlags uint8
	VCSCommit          uint32
	ImageCRC           uint64
}

// NodeStatus is the periodic liveness broadcast.
type NodeStatus struct {
	UptimeSec          uint32
	Health             uint8
	Mode               uint8
	SubMode            uint8
	VendorSpecificCode uint16
}

// Allocation is a dynamic node id allocation message. Requests are sent
// anonymously by the allocatee; responses come from the allocator.
type Allocation struct {
	// NodeID is the preferred id in a request, the allocated id in a final response.
	NodeID uint8

	// FirstPartOfUniqueID is set on first-stage requests.
	FirstPartOfUniqueID bool

	// UniqueID is a prefix (or all) of the unique identifier.
	UniqueID []byte
}

// GetNodeInfoResponse answers an identity query.
type GetNodeInfoResponse struct {
	Status          NodeStatus
	SoftwareVersion SoftwareVersion
	HardwareVersion HardwareVersion
	Name            string
}

// BeginFirmwareUpdateRequest asks a node to fetch and install an image.
type BeginFirmwareUpdateRequest struct {
	// SourceNodeID is the node serving the file; 0 means the requester itself.
	SourceNodeID uint8

	// Path is the remote image path.
	Path []byte
}

// BeginFirmwareUpdateResponse acknowledges a BeginFirmwareUpdate request.
type BeginFirmwareUpdateResponse struct {
	Error        uint8
	ErrorMessage string
}

// GetInfoResponse describes a remote file entry.
type GetInfoResponse struct {
	Size      uint64
	Error     int16
	EntryType uint8
}

// IsReadableFile reports whether the entry is a regular file that can be read.
func (r *GetInfoResponse) IsReadableFile() bool {
	const want = EntryTypeFile | EntryTypeReadable
	return r.EntryType&want == want
}

// ReadRequest asks for file data at an offset.
type ReadRequest struct {
	Offset uint64
	Path   []byte
}

// ReadResponse carries a chunk of file data. A chunk shorter than
// MaxReadDataLength marks the end of the file.
type ReadResponse struct {
	Error int16
	Data  []byte
}

// LogMessage is a human readable diagnostic broadcast.
type LogMessage struct {
	Level  uint8
	Source string
	Text   string
}
