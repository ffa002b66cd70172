package flash

import (
	"bytes"
	"errors"
	"testing"

	"github.com/moffa90/go-canboot/firmware"
)

const base = 0x08004000

func TestSimStartsErased(t *testing.T) {
	s := NewSim(base, 64)
	if !bytes.Equal(s.Bytes(), bytes.Repeat([]byte{ErasedByte}, 64)) {
		t.Error("new region not erased")
	}
	w, err := s.Word(60)
	if err != nil || w != firmware.ErasedWord {
		t.Errorf("Word(60) = 0x%X, %v", w, err)
	}
}

func TestSimWrite(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(s *Sim)
		addr    uint32
		data    []byte
		wantErr bool
		errMsg  string
	}{
		{
			name: "aligned write to erased flash",
			addr: base + 4,
			data: []byte{1, 2, 3, 4},
		},
		{
			name:    "odd address",
			addr:    base + 1,
			data:    []byte{1, 2},
			wantErr: true,
			errMsg:  "half-word aligned",
		},
		{
			name:    "odd length",
			addr:    base,
			data:    []byte{1, 2, 3},
			wantErr: true,
			errMsg:  "half-word aligned",
		},
		{
			name:    "below base",
			addr:    base - 2,
			data:    []byte{1, 2},
			wantErr: true,
			errMsg:  "outside",
		},
		{
			name:    "past end",
			addr:    base + 62,
			data:    []byte{1, 2, 3, 4},
			wantErr: true,
			errMsg:  "outside",
		},
		{
			name:    "setting cleared bits",
			prepare: func(s *Sim) { _ = s.Write(base, []byte{0x00, 0x00}) },
			addr:    base,
			data:    []byte{0x01, 0x00},
			wantErr: true,
			errMsg:  "without erase",
		},
		{
			name:    "clearing more bits",
			prepare: func(s *Sim) { _ = s.Write(base, []byte{0xF0, 0xFF}) },
			addr:    base,
			data:    []byte{0x30, 0x0F},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSim(base, 64)
			if tt.prepare != nil {
				tt.prepare(s)
			}
			err := s.Write(tt.addr, tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Write() expected error, got nil")
				}
				if !bytes.Contains([]byte(err.Error()), []byte(tt.errMsg)) {
					t.Errorf("error = %q, want substring %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Write() unexpected error: %v", err)
			}
			got := make([]byte, len(tt.data))
			if err := s.ReadAt(got, tt.addr-base); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.data) {
				t.Errorf("read back % X, want % X", got, tt.data)
			}
		})
	}
}

func TestSimEraseRestoresOnes(t *testing.T) {
	s := NewSim(base, 32)
	if err := s.Write(base, make([]byte, 32)); err != nil {
		t.Fatal(err)
	}
	if err := s.Erase(base+8, 8); err != nil {
		t.Fatal(err)
	}
	got := s.Bytes()
	for i, b := range got {
		erased := i >= 8 && i < 16
		if erased != (b == ErasedByte) {
			t.Fatalf("byte %d = 0x%02X after partial erase", i, b)
		}
	}
	if erases, writes := s.Stats(); erases != 1 || writes != 1 {
		t.Errorf("Stats() = %d, %d", erases, writes)
	}
}

func TestSimFaults(t *testing.T) {
	boom := errors.New("boom")
	s := NewSim(base, 32)
	s.SetFaults(Faults{Erase: boom, Write: boom, WriteAfter: 1})

	if err := s.Erase(base, 32); !errors.Is(err, boom) {
		t.Errorf("Erase() error = %v", err)
	}
	if err := s.Write(base, []byte{0, 0}); err != nil {
		t.Errorf("first Write() error = %v", err)
	}
	if err := s.Write(base+2, []byte{0, 0}); !errors.Is(err, boom) {
		t.Errorf("second Write() error = %v", err)
	}
}

func TestSimRestore(t *testing.T) {
	s := NewSim(base, 8)
	if err := s.Restore([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(s.Bytes(), want) {
		t.Errorf("Bytes() = % X", s.Bytes())
	}
	if err := s.Restore(make([]byte, 9)); err == nil {
		t.Error("oversized Restore should fail")
	}
}
