package simboard

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moffa90/go-canboot/bootloader"
	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/can/vcan"
	"github.com/moffa90/go-canboot/firmware"
	"github.com/moffa90/go-canboot/flash"
	"github.com/moffa90/go-canboot/fwserver"
	"github.com/moffa90/go-canboot/handoff"
	"github.com/moffa90/go-canboot/protocol"
	"github.com/moffa90/go-canboot/timer"
)

const (
	testBase = 0x08004000
	testSize = 8192
)

var testUID = [protocol.UniqueIDLength]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}

func newBoard(opts ...Option) *Board {
	return New(testUID, flash.NewSim(testBase, testSize), opts...)
}

func TestBoardCollaborators(t *testing.T) {
	b := newBoard(WithName("org.example.test"), WithHardwareVersion(3, 1))

	if b.ProductName() != "org.example.test" {
		t.Errorf("ProductName() = %q", b.ProductName())
	}
	hw := b.HardwareVersion()
	if hw.Major != 3 || hw.Minor != 1 || hw.UniqueID != testUID {
		t.Errorf("HardwareVersion() = %+v", hw)
	}
	if present, _ := b.GetNodeInfoStrap(); present {
		t.Error("board without strap reports one")
	}

	b.Indicate(bootloader.IndicateReset)
	b.Indicate(bootloader.IndicateJumpToApp)
	b.Jump(testBase, 0x20001000, testBase+0x101)

	if got := b.Indications(); len(got) != 2 || got[1] != bootloader.IndicateJumpToApp {
		t.Errorf("Indications() = %v", got)
	}
	want := Jump{VectorTable: testBase, StackTop: 0x20001000, EntryPoint: testBase + 0x101}
	if got := b.Jumps(); len(got) != 1 || got[0] != want {
		t.Errorf("Jumps() = %+v", got)
	}

	b.Reset()
	if got := b.Indications(); len(got) != 0 {
		t.Errorf("indications survived the reset: %v", got)
	}
	if boots, resets := b.Counters(); boots != 1 || resets != 1 {
		t.Errorf("Counters() = %d, %d", boots, resets)
	}
}

func TestStrap(t *testing.T) {
	tests := []struct {
		name   string
		active bool
	}{
		{"active", true},
		{"inactive", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			present, active := newBoard(WithStrap(tt.active)).GetNodeInfoStrap()
			if !present || active != tt.active {
				t.Errorf("GetNodeInfoStrap() = %v, %v", present, active)
			}
		})
	}
}

func TestRequestUpdate(t *testing.T) {
	b := newBoard()

	if err := b.RequestUpdate(); !errors.Is(err, handoff.ErrWrongRole) {
		t.Fatalf("RequestUpdate without a bootloader record: %v", err)
	}

	rec := handoff.Record{BusBitRate: 500000, NodeID: 42}
	if err := handoff.Write(b, rec, handoff.RoleBootloader); err != nil {
		t.Fatal(err)
	}
	if err := b.RequestUpdate(); err != nil {
		t.Fatalf("RequestUpdate: %v", err)
	}
	got, err := handoff.Read(b, handoff.RoleApplication)
	if err != nil {
		t.Fatalf("handoff.Read: %v", err)
	}
	if got != rec {
		t.Errorf("application record = %+v, want %+v", got, rec)
	}
}

func TestStatePersistence(t *testing.T) {
	b := newBoard()
	if err := b.Flash().Write(testBase+16, []byte{0xDE, 0xAD, 0xBE, 0xEF}); err != nil {
		t.Fatal(err)
	}
	if err := handoff.Write(b, handoff.Record{BusBitRate: 1000000, NodeID: 7}, handoff.RoleBootloader); err != nil {
		t.Fatal(err)
	}
	b.Jump(testBase, 0, 0)
	b.Reset()

	first, err := b.MarshalState()
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}
	second, _ := b.MarshalState()
	if !bytes.Equal(first, second) {
		t.Error("state encoding is not deterministic")
	}

	path := filepath.Join(t.TempDir(), "board.cbor")
	if err := b.SaveState(path); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	restored := newBoard()
	if err := restored.LoadState(path); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if !bytes.Equal(restored.Flash().Bytes(), b.Flash().Bytes()) {
		t.Error("flash contents not restored")
	}
	rec, err := handoff.Read(restored, handoff.RoleBootloader)
	if err != nil || rec.NodeID != 7 {
		t.Errorf("handoff record = %+v, %v", rec, err)
	}
	if boots, resets := restored.Counters(); boots != 1 || resets != 1 {
		t.Errorf("Counters() = %d, %d", boots, resets)
	}
}

func TestLoadState(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		b := newBoard()
		if err := b.LoadState(filepath.Join(dir, "none.cbor")); err != nil {
			t.Fatalf("LoadState: %v", err)
		}
		if w, _ := b.Flash().Word(0); w != firmware.ErasedWord {
			t.Errorf("flash not erased: 0x%08X", w)
		}
	})

	t.Run("other board", func(t *testing.T) {
		other := New([protocol.UniqueIDLength]byte{0xFF}, flash.NewSim(testBase, testSize))
		path := filepath.Join(dir, "other.cbor")
		if err := other.SaveState(path); err != nil {
			t.Fatal(err)
		}
		if err := newBoard().LoadState(path); !errors.Is(err, ErrUniqueIDMismatch) {
			t.Errorf("LoadState error = %v, want ErrUniqueIDMismatch", err)
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(dir, "corrupt.cbor")
		if err := os.WriteFile(path, []byte{0xFF, 0x00}, 0o644); err != nil {
			t.Fatal(err)
		}
		if err := newBoard().LoadState(path); err == nil {
			t.Error("LoadState accepted garbage")
		}
	})
}

// image returns a stamped image for the test flash.
func image(t *testing.T, size int, seed byte) []byte {
	t.Helper()
	img := make([]byte, size)
	for i := range img {
		img[i] = byte(i) ^ seed
	}
	binary.LittleEndian.PutUint32(img[0:], 0x20004000)
	binary.LittleEndian.PutUint32(img[4:], testBase+0x201)
	copy(img[256:], (&firmware.ApplicationDescriptor{Major: 1, Minor: seed}).Bytes())
	if _, err := firmware.Stamp(img); err != nil {
		t.Fatal(err)
	}
	return img
}

// TestBootCycles updates a blank board, then boots the new image and finally
// takes a second update requested by the application.
func TestBootCycles(t *testing.T) {
	clock := timer.NewFakeClock(time.Unix(0, 0), 100*time.Microsecond)
	board := newBoard()
	v1 := image(t, 1024, 1)
	v2 := image(t, 1200, 2)

	run := func(served []byte) bootloader.Outcome {
		bus := vcan.NewBus(clock, can.Speed500K)
		fwserver.New(clock, fwserver.WithImage("app.bin", served)).Attach(bus)
		bl := bootloader.New(bootloader.Hardware{
			CAN:      bus.Attach(protocol.Classify),
			Flash:    board.Flash(),
			Handoff:  board,
			Board:    board,
			Launcher: board,
			Clock:    clock,
		},
			bootloader.WithRequestPeriod(50*time.Millisecond, 100*time.Millisecond),
			bootloader.WithRestartTimeout(10*time.Millisecond),
			bootloader.WithMaxWait(30*time.Second),
		)
		return bl.Run()
	}

	if out := run(v1); out.Phase != bootloader.PhaseBoot || !out.Updated {
		t.Fatalf("first cycle: %+v", out)
	}
	if out := run(v1); out.Phase != bootloader.PhaseBoot || out.Updated {
		t.Fatalf("second cycle: %+v", out)
	}

	if err := board.RequestUpdate(); err != nil {
		t.Fatalf("RequestUpdate: %v", err)
	}
	out := run(v2)
	if out.Phase != bootloader.PhaseBoot || !out.Updated {
		t.Fatalf("third cycle: %+v", out)
	}
	if !bytes.Equal(board.Flash().Bytes()[:len(v2)], v2) {
		t.Error("flash does not hold the second image")
	}
	if boots, resets := board.Counters(); boots != 3 || resets != 0 {
		t.Errorf("Counters() = %d, %d", boots, resets)
	}
}
