package firmware

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MaxImageFileSize bounds the decompressed size LoadImageFile accepts.
const MaxImageFileSize = 16 << 20

// LoadImageFile reads an application image. Files ending in ".zst" are
// zstd-compressed and files ending in ".lz4" are LZ4 frames. After
// decompression a ".hex" name is parsed as Intel HEX; anything else is a raw
// binary.
func LoadImageFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	c := compressionFor(path)
	data, err := ReadImage(f, c)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(strings.TrimSuffix(path, ".zst"), ".lz4")
	if !strings.EqualFold(filepath.Ext(name), ".hex") {
		return data, nil
	}
	_, image, err := ParseHex(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return image, nil
}

// Compression selects how ReadImage decodes its input.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

func compressionFor(path string) Compression {
	switch {
	case strings.HasSuffix(path, ".zst"):
		return CompressionZstd
	case strings.HasSuffix(path, ".lz4"):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// ReadImage reads an image from r, decompressing it as requested.
func ReadImage(r io.Reader, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	case CompressionLZ4:
		r = lz4.NewReader(r)
	default:
		return nil, fmt.Errorf("unsupported compression: %v", c)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxImageFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %v image: %w", c, err)
	}
	if len(data) > MaxImageFileSize {
		return nil, fmt.Errorf("image exceeds %d bytes", MaxImageFileSize)
	}
	return data, nil
}
