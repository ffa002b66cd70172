package protocol

import "encoding/binary"

// Checksum algorithm constants.
const (
	// CRC16Polynomial is the CRC-16-CCITT polynomial (0x1021)
	CRC16Polynomial = 0x1021

	// CRC16InitialValue is the CRC-16 initial value
	CRC16InitialValue = 0xFFFF

	// CRC16HighBitMask is the high bit mask for CRC-16 calculations
	CRC16HighBitMask = 0x8000

	// CRC64Polynomial is the CRC-64-WE polynomial
	CRC64Polynomial uint64 = 0x42F0E1EBA9EA3693

	// CRC64InitialValue is the CRC-64-WE initial value
	CRC64InitialValue uint64 = 0xFFFFFFFFFFFFFFFF

	// CRC64OutputXOR is XORed into the accumulated CRC-64-WE value
	CRC64OutputXOR uint64 = 0xFFFFFFFFFFFFFFFF

	// BitsPerByte is the number of bits per byte
	BitsPerByte = 8
)

// CRC16 is a running CRC-16-CCITT-FALSE value (no reflection, no final XOR).
type CRC16 uint16

// NewCRC16 returns the initial CRC-16 value.
func NewCRC16() CRC16 { return CRC16InitialValue }

// AddByte feeds one byte into the CRC.
func (c CRC16) AddByte(b byte) CRC16 {
	crc := uint16(c)
	crc ^= uint16(b) << BitsPerByte
	for i := 0; i < BitsPerByte; i++ {
		if crc&CRC16HighBitMask != 0 {
			crc = (crc << 1) ^ CRC16Polynomial
		} else {
			crc = crc << 1
		}
	}
	return CRC16(crc)
}

// Add feeds data into the CRC.
func (c CRC16) Add(data []byte) CRC16 {
	for _, b := range data {
		c = c.AddByte(b)
	}
	return c
}

// AddSignature feeds a 64-bit data type signature, least significant byte first.
func (c CRC16) AddSignature(signature uint64) CRC16 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], signature)
	return c.Add(buf[:])
}

// SignatureCRC16 returns the transfer CRC state after the signature has been
// fed, i.e. the starting value for a payload of the given data type.
func SignatureCRC16(signature uint64) CRC16 {
	return NewCRC16().AddSignature(signature)
}

// TransferCRC computes the multi-frame transfer CRC of payload for a data type.
func TransferCRC(signature uint64, payload []byte) uint16 {
	return uint16(SignatureCRC16(signature).Add(payload))
}

// calculateCRC16 computes a plain CRC-16-CCITT over data.
func calculateCRC16(data []byte) uint16 {
	return uint16(NewCRC16().Add(data))
}

// CRC64 is a running CRC-64-WE value. The final value is obtained with Sum.
type CRC64 uint64

// NewCRC64 returns the initial CRC-64-WE value.
func NewCRC64() CRC64 { return CRC64(CRC64InitialValue) }

// AddByte feeds one byte into the CRC, most significant bit first.
func (c CRC64) AddByte(b byte) CRC64 {
	crc := uint64(c)
	crc ^= uint64(b) << 56
	for i := 0; i < BitsPerByte; i++ {
		if crc&(1<<63) != 0 {
			crc = (crc << 1) ^ CRC64Polynomial
		} else {
			crc <<= 1
		}
	}
	return CRC64(crc)
}

// Add feeds data into the CRC.
func (c CRC64) Add(data []byte) CRC64 {
	for _, b := range data {
		c = c.AddByte(b)
	}
	return c
}

// AddWord feeds a 32-bit word as it is laid out in little-endian memory.
func (c CRC64) AddWord(word uint32) CRC64 {
	c = c.AddByte(byte(word))
	c = c.AddByte(byte(word >> 8))
	c = c.AddByte(byte(word >> 16))
	return c.AddByte(byte(word >> 24))
}

// Sum returns the final CRC value with the output XOR applied.
func (c CRC64) Sum() uint64 {
	return uint64(c) ^ CRC64OutputXOR
}
