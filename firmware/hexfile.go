package firmware

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Intel HEX record types.
const (
	HexRecordData           = 0x00
	HexRecordEOF            = 0x01
	HexRecordSegmentAddress = 0x02
	HexRecordStartSegment   = 0x03
	HexRecordLinearAddress  = 0x04
	HexRecordStartLinear    = 0x05
)

const (
	// MinimumHexRecordLength is the length of an empty record in hex
	// characters, without the leading colon
	MinimumHexRecordLength = 10

	// HexRecordHeaderSize is the size of byte count, address and type
	HexRecordHeaderSize = 4
)

// HexRecord is one line of an Intel HEX file.
type HexRecord struct {
	Type     byte
	Address  uint16
	Data     []byte
	Checksum byte
}

// ParseHex reads an Intel HEX file and returns the image it describes.
// base is the lowest address holding data; gaps between records are filled
// with erased bytes.
//
// Example:
//
//	f, _ := os.Open("app.hex")
//	base, image, err := firmware.ParseHex(f)
func ParseHex(r io.Reader) (base uint32, image []byte, err error) {
	type chunk struct {
		addr uint32
		data []byte
	}
	var (
		chunks []chunk
		upper  uint32
		eof    bool
	)

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines
		if line == "" {
			continue
		}
		if eof {
			return 0, nil, fmt.Errorf("line %d: data after end-of-file record", lineNum)
		}

		rec, err := parseHexRecord(line)
		if err != nil {
			return 0, nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch rec.Type {
		case HexRecordData:
			chunks = append(chunks, chunk{addr: upper + uint32(rec.Address), data: rec.Data})
		case HexRecordEOF:
			eof = true
		case HexRecordSegmentAddress:
			if len(rec.Data) != 2 {
				return 0, nil, fmt.Errorf("line %d: segment address record holds %d bytes", lineNum, len(rec.Data))
			}
			upper = (uint32(rec.Data[0])<<8 | uint32(rec.Data[1])) << 4
		case HexRecordLinearAddress:
			if len(rec.Data) != 2 {
				return 0, nil, fmt.Errorf("line %d: linear address record holds %d bytes", lineNum, len(rec.Data))
			}
			upper = (uint32(rec.Data[0])<<8 | uint32(rec.Data[1])) << 16
		case HexRecordStartSegment, HexRecordStartLinear:
			// The entry point comes from the vector table.
		default:
			return 0, nil, fmt.Errorf("line %d: unknown record type 0x%02X", lineNum, rec.Type)
		}
	}

	if err := scanner.Err(); err != nil {
		return 0, nil, fmt.Errorf("failed to read file: %w", err)
	}
	if !eof {
		return 0, nil, fmt.Errorf("missing end-of-file record")
	}
	if len(chunks) == 0 {
		return 0, nil, fmt.Errorf("no data records found in file")
	}

	base = chunks[0].addr
	end := uint64(0)
	for _, c := range chunks {
		if c.addr < base {
			base = c.addr
		}
		if e := uint64(c.addr) + uint64(len(c.data)); e > end {
			end = e
		}
	}
	if end-uint64(base) > MaxImageFileSize {
		return 0, nil, fmt.Errorf("image spans %d bytes, limit is %d", end-uint64(base), MaxImageFileSize)
	}

	image = make([]byte, end-uint64(base))
	for i := range image {
		image[i] = ErasedByte
	}
	for _, c := range chunks {
		copy(image[c.addr-base:], c.data)
	}
	return base, image, nil
}

// parseHexRecord parses a single record.
//
// Record format:
//
//	:[ByteCount(1)][Address(2)][Type(1)][Data(N)][Checksum(1)]
//
// All values are hex-encoded and the address is big-endian.
//
// Example: ":0400000001020304F2"
//
//	ByteCount: 0x04
//	Address: 0x0000
//	Type: 0x00 (data)
//	Data: [0x01, 0x02, 0x03, 0x04]
//	Checksum: 0xF2
func parseHexRecord(line string) (*HexRecord, error) {
	if line[0] != ':' {
		return nil, fmt.Errorf("record must start with ':'")
	}
	line = line[1:]

	if len(line) < MinimumHexRecordLength {
		return nil, fmt.Errorf("record too short: got %d characters, minimum is %d", len(line), MinimumHexRecordLength)
	}

	data, err := hex.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}

	count := int(data[0])
	expectedLen := HexRecordHeaderSize + count + 1
	if len(data) != expectedLen {
		return nil, fmt.Errorf("data length mismatch: got %d bytes, expected %d (header=%d + data=%d + checksum=1)",
			len(data), expectedLen, HexRecordHeaderSize, count)
	}

	checksum := data[len(data)-1]
	if calculated := calculateHexChecksum(data[:len(data)-1]); checksum != calculated {
		return nil, fmt.Errorf("checksum mismatch: got 0x%02X, expected 0x%02X", checksum, calculated)
	}

	rec := &HexRecord{
		Type:     data[3],
		Address:  uint16(data[1])<<8 | uint16(data[2]),
		Data:     make([]byte, count),
		Checksum: checksum,
	}
	copy(rec.Data, data[HexRecordHeaderSize:HexRecordHeaderSize+count])
	return rec, nil
}

// calculateHexChecksum computes the record checksum: the 2's complement of
// the byte sum.
func calculateHexChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return ^sum + 1
}
