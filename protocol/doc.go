// Package protocol implements the UAVCAN v0 wire format used by the bootloader.
//
// This package encodes and decodes CAN identifiers, splits and reassembles
// multi-frame transfers, and serialises the handful of data types a
// bootloader needs to talk to an allocator and a firmware server.
//
// # Frame Overview
//
// Every frame carries up to seven payload bytes followed by a tail byte:
//
//	[PAYLOAD(0..7)][SOT|EOT|TOGGLE|TRANSFER_ID(5)]
//
// A transfer that does not fit in one frame starts with a 16-bit transfer CRC
// (little-endian) computed over the whole payload and seeded with the data
// type signature:
//
//	frame 1: [CRC_L][CRC_H][PAYLOAD(5)][TAIL]
//	frame n: [PAYLOAD(1..7)][TAIL]
//
// # CAN Identifiers
//
//	message:   [PRIO(5)][TYPE_ID(16)][0][SRC(7)]
//	anonymous: [PRIO(5)][DISCRIMINATOR(14)][TYPE_ID_LO(2)][0][0000000]
//	service:   [PRIO(5)][TYPE_ID(8)][REQ][DST(7)][1][SRC(7)]
//
// # Data Types
//
// Encode* functions build payloads and Parse* functions decode them:
//
//	payload, err := protocol.EncodeReadRequest(&protocol.ReadRequest{Offset: 0, Path: path})
//	frames, err := protocol.EncodeTransfer(header, transferID, payload)
//
//	r := protocol.NewReassembler()
//	t, err := r.Accept(frame) // t != nil once the last frame arrived
//	resp, err := protocol.ParseReadResponse(t.Payload)
//
// # Checksums
//
// CRC16 is CRC-16-CCITT-FALSE, used for transfer CRCs. CRC64 is CRC-64-WE,
// used for application image integrity and the bootloader/application
// handoff record.
package protocol
