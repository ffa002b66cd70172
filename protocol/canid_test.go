package protocol

import (
	"errors"
	"testing"

	"github.com/moffa90/go-canboot/can"
)

func TestHeaderEncode(t *testing.T) {
	tests := []struct {
		name    string
		header  Header
		want    uint32
		wantErr error
	}{
		{
			name:   "node status message",
			header: Header{Priority: PriorityMedium, Kind: KindMessage, DataTypeID: NodeStatusID, Source: 42},
			want:   0x1001552A,
		},
		{
			name:   "anonymous allocation request",
			header: Header{Priority: 30, Kind: KindAnonymous, DataTypeID: AllocationID, Discriminator: 0x1234},
			want:   0x1E48D100,
		},
		{
			name:   "get node info request",
			header: Header{Priority: PriorityLow, Kind: KindRequest, DataTypeID: GetNodeInfoID, Source: 10, Destination: 42},
			want:   0x1801AA8A,
		},
		{
			name:   "get node info response",
			header: Header{Priority: PriorityLow, Kind: KindResponse, DataTypeID: GetNodeInfoID, Source: 42, Destination: 10},
			want:   0x18010AAA,
		},
		{
			name:    "message from anonymous source",
			header:  Header{Kind: KindMessage, DataTypeID: NodeStatusID},
			wantErr: ErrInvalidNodeID,
		},
		{
			name:    "service to broadcast",
			header:  Header{Kind: KindRequest, DataTypeID: ReadID, Source: 3},
			wantErr: ErrInvalidNodeID,
		},
		{
			name:    "priority out of range",
			header:  Header{Priority: 32, Kind: KindMessage, DataTypeID: NodeStatusID, Source: 1},
			wantErr: ErrInvalidArgument,
		},
		{
			name:    "service type id out of range",
			header:  Header{Kind: KindRequest, DataTypeID: 300, Source: 1, Destination: 2},
			wantErr: ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.header.Encode()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Encode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Encode() = 0x%08X, want 0x%08X", got, tt.want)
			}
			if back := ParseHeader(got); back != tt.header {
				t.Errorf("ParseHeader() = %+v, want %+v", back, tt.header)
			}
		})
	}
}

func TestHeaderIs(t *testing.T) {
	anon := ParseHeader(0x1E48D100)
	if !anon.IsAllocation() {
		t.Error("anonymous allocation request not recognised")
	}

	resp := Header{Kind: KindMessage, DataTypeID: AllocationID, Source: 1}
	if !resp.IsAllocation() {
		t.Error("allocator response not recognised")
	}

	status := Header{Kind: KindMessage, DataTypeID: NodeStatusID, Source: 1}
	if status.IsAllocation() {
		t.Error("node status must not match allocation")
	}

	req := Header{Kind: KindRequest, DataTypeID: GetNodeInfoID, Source: 1, Destination: 2}
	if req.Is(KindResponse, GetNodeInfoID) {
		t.Error("request must not match response kind")
	}
}

func TestClassify(t *testing.T) {
	encode := func(h Header) uint32 {
		id, err := h.Encode()
		if err != nil {
			t.Fatalf("Encode(%+v): %v", h, err)
		}
		return id
	}

	tests := []struct {
		name   string
		header Header
		want   can.FIFO
	}{
		{"anonymous allocation", Header{Kind: KindAnonymous, DataTypeID: AllocationID, Discriminator: 7}, can.FIFOAllocation},
		{"allocator response", Header{Kind: KindMessage, DataTypeID: AllocationID, Source: 1}, can.FIFOAllocation},
		{"node info request", Header{Kind: KindRequest, DataTypeID: GetNodeInfoID, Source: 1, Destination: 2}, can.FIFONodeInfo},
		{"node info response", Header{Kind: KindResponse, DataTypeID: GetNodeInfoID, Source: 1, Destination: 2}, can.FIFOTransfer},
		{"read response", Header{Kind: KindResponse, DataTypeID: ReadID, Source: 1, Destination: 2}, can.FIFOTransfer},
		{"node status", Header{Kind: KindMessage, DataTypeID: NodeStatusID, Source: 1}, can.FIFOTransfer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(encode(tt.header)); got != tt.want {
				t.Errorf("Classify() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSignature(t *testing.T) {
	if sig, err := Signature(KindRequest, ReadID); err != nil || sig != ReadSignature {
		t.Errorf("Signature(read) = 0x%X, %v", sig, err)
	}
	if sig, err := Signature(KindAnonymous, AllocationID); err != nil || sig != AllocationSignature {
		t.Errorf("Signature(allocation) = 0x%X, %v", sig, err)
	}
	if _, err := Signature(KindMessage, 999); !errors.Is(err, ErrUnknownDataType) {
		t.Errorf("Signature(999) error = %v, want ErrUnknownDataType", err)
	}
}
