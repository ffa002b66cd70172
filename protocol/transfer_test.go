package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/moffa90/go-canboot/can"
)

var readRequestHeader = Header{
	Priority:    PriorityLow,
	Kind:        KindRequest,
	DataTypeID:  ReadID,
	Source:      10,
	Destination: 42,
}

func sequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func TestEncodeTransferSingleFrame(t *testing.T) {
	frames, err := EncodeTransfer(readRequestHeader, 5, []byte{0xAA, 0xBB, 0xCC})
	if err != nil {
		t.Fatalf("EncodeTransfer() error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	want := []byte{0xAA, 0xBB, 0xCC, 0xC5}
	if got := frames[0].Payload(); !bytes.Equal(got, want) {
		t.Errorf("frame payload = % X, want % X", got, want)
	}
}

func TestEncodeTransferMultiFrame(t *testing.T) {
	payload := sequence(20)
	frames, err := EncodeTransfer(readRequestHeader, 31, payload)
	if err != nil {
		t.Fatalf("EncodeTransfer() error: %v", err)
	}

	// 2 CRC bytes + 20 payload bytes = 22 bytes over 7-byte frames.
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}

	crc := TransferCRC(ReadSignature, payload)
	first := frames[0].Payload()
	if first[0] != byte(crc) || first[1] != byte(crc>>8) {
		t.Errorf("first frame CRC = %02X %02X, want 0x%04X little-endian", first[0], first[1], crc)
	}

	wantTails := []Tail{
		MakeTail(true, false, false, 31),
		MakeTail(false, false, true, 31),
		MakeTail(false, false, false, 31),
		MakeTail(false, true, true, 31),
	}
	for i, f := range frames {
		_, tail, err := SplitFrame(f)
		if err != nil {
			t.Fatalf("SplitFrame(%d): %v", i, err)
		}
		if tail != wantTails[i] {
			t.Errorf("frame %d tail = 0x%02X, want 0x%02X", i, byte(tail), byte(wantTails[i]))
		}
	}
	if frames[3].Len != 2 {
		t.Errorf("last frame length = %d, want 2", frames[3].Len)
	}
}

func TestEncodeTransferErrors(t *testing.T) {
	anon := Header{Kind: KindAnonymous, DataTypeID: AllocationID, Discriminator: 1}
	if _, err := EncodeTransfer(anon, 0, sequence(8)); !errors.Is(err, ErrAnonymousMultiFrame) {
		t.Errorf("anonymous multi-frame error = %v, want ErrAnonymousMultiFrame", err)
	}
	if _, err := EncodeTransfer(readRequestHeader, 0, sequence(MaxTransferPayload)); !errors.Is(err, ErrPayloadTooLong) {
		t.Errorf("oversized payload error = %v, want ErrPayloadTooLong", err)
	}
	unknown := Header{Kind: KindMessage, DataTypeID: 1000, Source: 1}
	if _, err := EncodeTransfer(unknown, 0, sequence(12)); !errors.Is(err, ErrUnknownDataType) {
		t.Errorf("unknown type error = %v, want ErrUnknownDataType", err)
	}
}

func TestReassemblerRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"single frame", 7},
		{"two frames", 8},
		{"full read response", ReadResponseFixedLength + MaxReadDataLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := sequence(tt.size)
			frames, err := EncodeTransfer(readRequestHeader, 3, payload)
			if err != nil {
				t.Fatalf("EncodeTransfer() error: %v", err)
			}

			r := NewReassembler()
			var got *Transfer
			for i, f := range frames {
				tr, err := r.Accept(f)
				if err != nil {
					t.Fatalf("Accept(frame %d) error: %v", i, err)
				}
				if tr != nil && i != len(frames)-1 {
					t.Fatalf("transfer completed early at frame %d", i)
				}
				got = tr
			}
			if got == nil {
				t.Fatal("transfer never completed")
			}
			if !bytes.Equal(got.Payload, payload) {
				t.Errorf("payload = % X, want % X", got.Payload, payload)
			}
			if got.TransferID != 3 {
				t.Errorf("transfer id = %d, want 3", got.TransferID)
			}
			if got.Header != readRequestHeader {
				t.Errorf("header = %+v, want %+v", got.Header, readRequestHeader)
			}
		})
	}
}

func TestReassemblerRejects(t *testing.T) {
	frames, err := EncodeTransfer(readRequestHeader, 9, sequence(20))
	if err != nil {
		t.Fatalf("EncodeTransfer() error: %v", err)
	}

	feed := func(r *Reassembler, fs []can.Frame) error {
		for _, f := range fs {
			if _, err := r.Accept(f); err != nil {
				return err
			}
		}
		return nil
	}

	t.Run("corrupted payload", func(t *testing.T) {
		bad := append([]can.Frame(nil), frames...)
		bad[2].Data[0] ^= 0x01
		if err := feed(NewReassembler(), bad); !errors.Is(err, ErrTransferCRC) {
			t.Errorf("error = %v, want ErrTransferCRC", err)
		}
	})

	t.Run("dropped frame", func(t *testing.T) {
		bad := []can.Frame{frames[0], frames[2], frames[3]}
		if err := feed(NewReassembler(), bad); !errors.Is(err, ErrToggle) {
			t.Errorf("error = %v, want ErrToggle", err)
		}
	})

	t.Run("continuation without start", func(t *testing.T) {
		if err := feed(NewReassembler(), frames[1:]); !errors.Is(err, ErrUnexpectedFrame) {
			t.Errorf("error = %v, want ErrUnexpectedFrame", err)
		}
	})

	t.Run("empty frame", func(t *testing.T) {
		if _, err := NewReassembler().Accept(can.Frame{ID: frames[0].ID}); !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("error = %v, want ErrInvalidFrame", err)
		}
	})

	t.Run("reset drops partial transfer", func(t *testing.T) {
		r := NewReassembler()
		if err := feed(r, frames[:2]); err != nil {
			t.Fatalf("partial feed: %v", err)
		}
		r.Reset()
		if err := feed(r, frames[2:]); !errors.Is(err, ErrUnexpectedFrame) {
			t.Errorf("error after Reset = %v, want ErrUnexpectedFrame", err)
		}
	})
}

func TestReassemblerInterleavedSessions(t *testing.T) {
	other := readRequestHeader
	other.Source = 11

	a, err := EncodeTransfer(readRequestHeader, 1, sequence(15))
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncodeTransfer(other, 1, bytes.Repeat([]byte{0x5A}, 15))
	if err != nil {
		t.Fatal(err)
	}

	r := NewReassembler()
	var done []*Transfer
	for i := range a {
		for _, f := range []can.Frame{a[i], b[i]} {
			tr, err := r.Accept(f)
			if err != nil {
				t.Fatalf("Accept: %v", err)
			}
			if tr != nil {
				done = append(done, tr)
			}
		}
	}
	if len(done) != 2 {
		t.Fatalf("completed %d transfers, want 2", len(done))
	}
	if done[0].Header.Source != 10 || done[1].Header.Source != 11 {
		t.Errorf("sources = %d, %d", done[0].Header.Source, done[1].Header.Source)
	}
}
