// Package firmware locates and verifies application images in flash.
//
// # Application Descriptor
//
// Every bootable image embeds a 32-byte descriptor at an 8-byte aligned
// offset. All fields are little-endian:
//
//	[SIGNATURE "APDesc00"(8)][IMAGE_CRC(8)][IMAGE_SIZE(4)][VCS_COMMIT(4)][MAJOR][MINOR][RESERVED(6)]
//
// The descriptor is found by scanning from the start of the image for the
// first aligned occurrence of the signature.
//
// # Image CRC
//
// IMAGE_CRC is a CRC-64-WE over the first IMAGE_SIZE/4 little-endian 32-bit
// words of the image, with the two words of the IMAGE_CRC field taken as zero.
// Word 0 is supplied by the caller rather than read from memory, because the
// bootloader keeps the real first word out of flash until the rest of the
// image has been verified.
//
// # Usage
//
// Validate the resident application:
//
//	v := firmware.IsAppValid(mem, firstWord, maxSize)
//	if !v.Valid {
//	    log.Printf("application invalid: %v", v.Err)
//	}
//
// Prepare a build artifact so that it validates:
//
//	image, err := firmware.LoadImageFile("app.bin.zst")
//	desc, err := firmware.Stamp(image)
//
// # Image Files
//
// LoadImageFile accepts raw binaries and Intel HEX (".hex"), either of them
// optionally compressed with zstd (".zst") or LZ4 (".lz4"). A HEX image starts
// at its lowest data address; gaps between records read as erased flash.
package firmware
