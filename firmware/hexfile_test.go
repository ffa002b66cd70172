package firmware

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// encodeHex writes image as Intel HEX with 16-byte data records at base.
func encodeHex(image []byte, base uint32) string {
	var sb strings.Builder
	record := func(typ byte, addr uint16, data []byte) {
		raw := append([]byte{byte(len(data)), byte(addr >> 8), byte(addr), typ}, data...)
		raw = append(raw, calculateHexChecksum(raw))
		fmt.Fprintf(&sb, ":%X\n", raw)
	}

	upper := uint32(1) // forces the first extended address record
	for off := 0; off < len(image); off += 16 {
		addr := base + uint32(off)
		if addr>>16 != upper {
			upper = addr >> 16
			record(HexRecordLinearAddress, 0, []byte{byte(upper >> 8), byte(upper)})
		}
		end := min(off+16, len(image))
		record(HexRecordData, uint16(addr), image[off:end])
	}
	record(HexRecordEOF, 0, nil)
	return sb.String()
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantBase  uint32
		wantImage []byte
		wantErr   bool
		errMsg    string
	}{
		{
			name: "single data record",
			input: ":0400000001020304F2\n" +
				":00000001FF\n",
			wantBase:  0,
			wantImage: []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name: "extended linear address",
			input: ":020000040800F2\n" +
				":02001000AABB89\n" +
				":00000001FF\n",
			wantBase:  0x08000010,
			wantImage: []byte{0xAA, 0xBB},
		},
		{
			name: "extended segment address",
			input: ":020000021000EC\n" +
				":0400000001020304F2\n" +
				":00000001FF\n",
			wantBase:  0x00010000,
			wantImage: []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name: "gap filled with erased bytes",
			input: ":020008000506EB\n" +
				":0400000001020304F2\n" +
				":00000001FF\n",
			wantBase:  0,
			wantImage: []byte{0x01, 0x02, 0x03, 0x04, 0xFF, 0xFF, 0xFF, 0xFF, 0x05, 0x06},
		},
		{
			name: "start address records ignored",
			input: ":0400000300000101F7\n" +
				":0400000508000101ED\n" +
				":0400000001020304F2\n" +
				":00000001FF\n",
			wantBase:  0,
			wantImage: []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name: "CRLF and blank lines",
			input: "\r\n:0400000001020304F2\r\n" +
				"\r\n" +
				":00000001FF\r\n",
			wantBase:  0,
			wantImage: []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name: "missing colon",
			input: "0400000001020304F2\n" +
				":00000001FF\n",
			wantErr: true,
			errMsg:  "must start with ':'",
		},
		{
			name: "record too short",
			input: ":0000\n" +
				":00000001FF\n",
			wantErr: true,
			errMsg:  "record too short",
		},
		{
			name: "invalid hex",
			input: ":0400000001020304GZ\n" +
				":00000001FF\n",
			wantErr: true,
			errMsg:  "invalid hex data",
		},
		{
			name: "length mismatch",
			input: ":0500000001020304F1\n" +
				":00000001FF\n",
			wantErr: true,
			errMsg:  "data length mismatch",
		},
		{
			name: "checksum mismatch",
			input: ":0400000001020304F3\n" +
				":00000001FF\n",
			wantErr: true,
			errMsg:  "checksum mismatch",
		},
		{
			name: "short linear address record",
			input: ":0100000408F3\n" +
				":00000001FF\n",
			wantErr: true,
			errMsg:  "linear address record holds 1 bytes",
		},
		{
			name: "unknown record type",
			input: ":00000006FA\n" +
				":00000001FF\n",
			wantErr: true,
			errMsg:  "unknown record type 0x06",
		},
		{
			name:    "missing end-of-file record",
			input:   ":0400000001020304F2\n",
			wantErr: true,
			errMsg:  "missing end-of-file record",
		},
		{
			name: "data after end-of-file record",
			input: ":00000001FF\n" +
				":0400000001020304F2\n",
			wantErr: true,
			errMsg:  "line 2: data after end-of-file record",
		},
		{
			name:    "no data records",
			input:   ":00000001FF\n",
			wantErr: true,
			errMsg:  "no data records",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, image, err := ParseHex(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseHex() expected error, got nil")
					return
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("ParseHex() error = %v, want error containing %q", err, tt.errMsg)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseHex() unexpected error: %v", err)
			}
			if base != tt.wantBase {
				t.Errorf("base = 0x%08X, want 0x%08X", base, tt.wantBase)
			}
			if !bytes.Equal(image, tt.wantImage) {
				t.Errorf("image = % X, want % X", image, tt.wantImage)
			}
		})
	}
}

func TestParseHexRoundTripsImage(t *testing.T) {
	image := buildImage(t, 2048, 128)

	// Straddles a 64 KiB boundary so two linear address records are needed.
	const base = 0x0800FC00
	gotBase, got, err := ParseHex(strings.NewReader(encodeHex(image, base)))
	if err != nil {
		t.Fatalf("ParseHex() error: %v", err)
	}
	if gotBase != base {
		t.Errorf("base = 0x%08X, want 0x%08X", gotBase, base)
	}
	if !bytes.Equal(got, image) {
		t.Fatalf("ParseHex() returned %d bytes differing from the %d-byte image", len(got), len(image))
	}
	if v := IsAppValid(NewImage(base, got), firstWord(got), 4096); !v.Valid {
		t.Errorf("parsed image failed validation: %+v", v)
	}
}

func TestCalculateHexChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want byte
	}{
		{
			name: "empty",
			data: []byte{},
			want: 0x00,
		},
		{
			name: "end-of-file record",
			data: []byte{0x00, 0x00, 0x00, 0x01},
			want: 0xFF,
		},
		{
			name: "data record",
			data: []byte{0x04, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04},
			want: 0xF2,
		},
		{
			name: "wrapping sum",
			data: []byte{0xFF, 0xFF, 0x02},
			want: 0x00,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateHexChecksum(tt.data)
			if got != tt.want {
				t.Errorf("calculateHexChecksum() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestLoadImageFileHex(t *testing.T) {
	image := buildImage(t, 1024, 64)
	text := encodeHex(image, 0x08004000)
	dir := t.TempDir()

	var zst bytes.Buffer
	zw, err := zstd.NewWriter(&zst)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := zw.Write([]byte(text)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	files := map[string][]byte{
		"app.hex":     []byte(text),
		"APP.HEX":     []byte(text),
		"app.hex.zst": zst.Bytes(),
	}
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, content, 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := LoadImageFile(path)
			if err != nil {
				t.Fatalf("LoadImageFile() error: %v", err)
			}
			if !bytes.Equal(got, image) {
				t.Errorf("LoadImageFile() returned %d bytes, want the original %d", len(got), len(image))
			}
		})
	}

	bad := filepath.Join(dir, "bad.hex")
	if err := os.WriteFile(bad, []byte(":0400000001020304F3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadImageFile(bad); err == nil || !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("LoadImageFile(bad.hex) error = %v, want checksum mismatch", err)
	}
}
