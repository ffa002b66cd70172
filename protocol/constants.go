package protocol

// ProtocolVersion is the UAVCAN protocol revision implemented by this package.
const ProtocolVersion = "0"

// Node identifiers.
const (
	// AnonymousNodeID is the source of anonymous messages and the "unset" node id.
	AnonymousNodeID = 0

	// BroadcastNodeID is the destination placeholder used for broadcast messages.
	BroadcastNodeID = 0

	// MaxNodeID is the highest valid node id.
	MaxNodeID = 127
)

// Transfer priorities (0 is the highest).
const (
	PriorityHighest = 0
	PriorityHigh    = 8
	PriorityMedium  = 16
	PriorityLow     = 24
	PriorityLowest  = 31
)

// Frame geometry.
const (
	// FramePayloadLength is the number of payload bytes in a frame, excluding the tail byte.
	FramePayloadLength = 7

	// TransferCRCLength is the size of the transfer CRC that prefixes multi-frame payloads.
	TransferCRCLength = 2

	// MaxTransferID is the largest 5-bit transfer id.
	MaxTransferID = 31
)

// Tail byte flags.
const (
	TailStartOfTransfer = 0x80
	TailEndOfTransfer   = 0x40
	TailToggle          = 0x20
	TailTransferIDMask  = 0x1F
)

// Data type ids. Messages and services live in separate id spaces.
const (
	AllocationID          = 1
	NodeStatusID          = 341
	LogMessageID          = 16383
	GetNodeInfoID         = 1
	BeginFirmwareUpdateID = 40
	GetInfoID             = 45
	ReadID                = 48
)

// Data type signatures used to seed the transfer CRC.
const (
	AllocationSignature          uint64 = 0x0b2a812620a11d40
	NodeStatusSignature          uint64 = 0x0f0868d0c1a7c6f1
	LogMessageSignature          uint64 = 0xd654a48e0c049d75
	GetNodeInfoSignature         uint64 = 0xee468a8121c46a9e
	BeginFirmwareUpdateSignature uint64 = 0xb7d725df72724126
	GetInfoSignature             uint64 = 0x5004891ee8a27531
	ReadSignature                uint64 = 0x8dcdca939f33f678
)

// Dynamic node id allocation.
const (
	// UniqueIDLength is the length of a hardware unique identifier.
	UniqueIDLength = 16

	// MaxUniqueIDInRequest is the number of unique-id bytes that fit in one
	// anonymous allocation request next to the node id byte.
	MaxUniqueIDInRequest = 6
)

// Field capacities.
const (
	MaxPathLength           = 200
	MaxNameLength           = 80
	MaxReadDataLength       = 256
	MaxErrorMessageLength   = 127
	MaxLogSourceLength      = 31
	MaxLogTextLength        = 90
	MaxCertificateLength    = 255
	NodeStatusLength        = 7
	SoftwareVersionLength   = 15
	GetInfoResponseLength   = 8
	ReadRequestFixedLength  = 5
	ReadResponseFixedLength = 2
)

// NodeStatus health values.
const (
	HealthOK       = 0
	HealthWarning  = 1
	HealthError    = 2
	HealthCritical = 3
)

// NodeStatus mode values.
const (
	ModeOperational    = 0
	ModeInitialization = 1
	ModeMaintenance    = 2
	ModeSoftwareUpdate = 3
	ModeOffline        = 7
)

// SoftwareVersion optional field flags.
const (
	SoftwareVersionFlagVCSCommit = 1
	SoftwareVersionFlagImageCRC  = 2
)

// BeginFirmwareUpdate response codes.
const (
	UpdateErrorOK          = 0
	UpdateErrorInvalidMode = 1
	UpdateErrorInProgress  = 2
	UpdateErrorUnknown     = 255
)

// File service error codes (errno style).
const (
	FileErrorOK             = 0
	FileErrorUnknown        = 32767
	FileErrorNotFound       = 2
	FileErrorIOError        = 5
	FileErrorAccessDenied   = 13
	FileErrorIsDirectory    = 21
	FileErrorInvalidValue   = 22
	FileErrorFileTooLarge   = 27
	FileErrorOutOfSpace     = 28
	FileErrorNotImplemented = 38
)

// File entry type flags.
const (
	EntryTypeFile      = 1
	EntryTypeDirectory = 2
	EntryTypeSymlink   = 4
	EntryTypeReadable  = 8
	EntryTypeWriteable = 16
)

// LogMessage levels.
const (
	LogLevelDebug   = 0
	LogLevelInfo    = 1
	LogLevelWarning = 2
	LogLevelError   = 3
)
