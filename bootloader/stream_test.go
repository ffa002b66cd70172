package bootloader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/moffa90/go-canboot/can"
	"github.com/moffa90/go-canboot/firmware"
	"github.com/moffa90/go-canboot/fwserver"
	"github.com/moffa90/go-canboot/protocol"
)

const (
	testNodeID = 10
	testPath   = "fw.bin"
)

func TestReadPeriod(t *testing.T) {
	tests := []struct {
		speed can.Speed
		want  time.Duration
	}{
		{can.Speed125K, 500 * time.Millisecond},
		{can.Speed250K, 250 * time.Millisecond},
		{can.Speed500K, 125 * time.Millisecond},
		{can.Speed1M, 62500 * time.Microsecond},
	}

	for _, tt := range tests {
		t.Run(tt.speed.String(), func(t *testing.T) {
			bl := newHarness(t, tt.speed).newBootloader()
			bl.reset()
			bl.state.setBusSpeed(tt.speed)
			if got := bl.readPeriod(); got != tt.want {
				t.Errorf("readPeriod() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFileReadAndProgram(t *testing.T) {
	tests := []struct {
		name      string
		imageSize int
		opts      []fwserver.Option
		wantErr   bool
		wantLog   string
	}{
		{name: "short final chunk", imageSize: 600},
		{name: "single chunk", imageSize: 200},
		{name: "exact multiple", imageSize: 512},
		{name: "error responses within retries", imageSize: 600, opts: []fwserver.Option{fwserver.WithReadErrors(2)}, wantLog: "Pf"},
		{name: "dropped request within retries", imageSize: 600, opts: []fwserver.Option{fwserver.WithDroppedReads(2)}},
		{name: "error responses exhaust retries", imageSize: 600, opts: []fwserver.Option{fwserver.WithReadErrors(3)}, wantErr: true, wantLog: "Pf"},
		{name: "dropped requests exhaust retries", imageSize: 600, opts: []fwserver.Option{fwserver.WithDroppedReads(3)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := testImage(t, tt.imageSize, 1)
			opts := append([]fwserver.Option{fwserver.WithImage(testPath, img)}, tt.opts...)
			h := newHarness(t, can.Speed1M).withServer(opts...)
			bl := h.newBootloader()
			h.prepare(t, bl, testNodeID)

			err := bl.fileReadAndProgram(h.server.NodeID(), []byte(testPath), uint32(len(img)))

			if tt.wantLog != "" && !hasLog(h, tt.wantLog) {
				t.Errorf("no %q log message on the bus", tt.wantLog)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrTimeout) && !protocol.IsServiceError(err) {
					t.Fatalf("error = %v, want a timeout or service error", err)
				}
				if !h.board.indicated(IndicateTimeout) {
					t.Error("timeout not indicated")
				}
				return
			}
			if err != nil {
				t.Fatalf("fileReadAndProgram: %v", err)
			}

			if want := binary.LittleEndian.Uint32(img); bl.state.FirstWord != want {
				t.Errorf("FirstWord = 0x%08X, want 0x%08X", bl.state.FirstWord, want)
			}
			got := h.flash.Bytes()
			if w := binary.LittleEndian.Uint32(got); w != firmware.ErasedWord {
				t.Errorf("first word programmed early: 0x%08X", w)
			}
			if !bytes.Equal(got[4:len(img)], img[4:]) {
				t.Error("flash contents differ from the image")
			}
		})
	}
}

func TestFileReadAndProgramEmptyFinalRead(t *testing.T) {
	img := testImage(t, 512, 1)
	h := newHarness(t, can.Speed1M).withServer(
		fwserver.WithImage(testPath, img),
		fwserver.WithReportedSize(600),
	)
	bl := h.newBootloader()
	h.prepare(t, bl, testNodeID)

	err := bl.fileReadAndProgram(h.server.NodeID(), []byte(testPath), 600)
	if !errors.Is(err, errEmptyChunk) {
		t.Fatalf("error = %v, want errEmptyChunk", err)
	}
}

func TestFileReadAndProgramShortFile(t *testing.T) {
	img := testImage(t, 600, 1)
	h := newHarness(t, can.Speed1M).withServer(fwserver.WithImage(testPath, img))
	bl := h.newBootloader()
	h.prepare(t, bl, testNodeID)

	err := bl.fileReadAndProgram(h.server.NodeID(), []byte(testPath), 800)

	var incomplete *IncompleteTransferError
	if !errors.As(err, &incomplete) {
		t.Fatalf("error = %v, want IncompleteTransferError", err)
	}
	if incomplete.Written != 600 || incomplete.Expected != 800 {
		t.Errorf("got %+v", incomplete)
	}
}

func TestFileReadRateLimit(t *testing.T) {
	tests := []struct {
		speed can.Speed
		drops int
	}{
		{can.Speed125K, 0},
		{can.Speed1M, 0},
		{can.Speed1M, 2},
		{can.Speed250K, 1},
	}

	for _, tt := range tests {
		t.Run(tt.speed.String(), func(t *testing.T) {
			img := testImage(t, 1000, 2)
			h := newHarness(t, tt.speed).withServer(
				fwserver.WithImage(testPath, img),
				fwserver.WithDroppedReads(tt.drops),
			)
			bl := h.newBootloader()
			h.prepare(t, bl, testNodeID)

			if err := bl.fileReadAndProgram(h.server.NodeID(), []byte(testPath), uint32(len(img))); err != nil {
				t.Fatalf("fileReadAndProgram: %v", err)
			}

			period := bl.readPeriod()
			times := h.readRequestTimes()
			if want := 4 + tt.drops; len(times) != want {
				t.Fatalf("sent %d read requests, want %d", len(times), want)
			}
			for i := 1; i < len(times); i++ {
				if gap := times[i].Sub(times[i-1]); gap < period {
					t.Errorf("read requests %d and %d are %v apart, want at least %v", i-1, i, gap, period)
				}
			}
		})
	}
}

func hasLog(h *harness, text string) bool {
	for _, m := range h.server.Logs() {
		if m.Text == text && m.Source == logSource {
			return true
		}
	}
	return false
}
