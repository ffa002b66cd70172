// Package bootloader implements the boot sequence of a field-updatable CAN
// node speaking UAVCAN v0.
//
// # Overview
//
// A run takes the node from reset to either the application or a reset:
//   - Validating the resident application image (descriptor and CRC-64)
//   - Taking over the bus parameters handed over by the application, or
//     detecting the bit rate and obtaining a node id by dynamic allocation
//   - Answering GetNodeInfo and broadcasting NodeStatus from the tick
//   - Accepting a BeginFirmwareUpdate request and streaming the image from
//     the file server into flash
//   - Validating the new image and committing its first word
//   - Handing control to the application
//
// # Basic Usage
//
// The board package supplies the hardware collaborators:
//
//	bl := bootloader.New(bootloader.Hardware{
//	    CAN:      canDriver,
//	    Flash:    appFlash,
//	    Handoff:  sharedRAM,
//	    Board:    board,
//	    Launcher: board,
//	})
//
//	outcome := bl.Run()
//	if outcome.Phase == bootloader.PhaseFail {
//	    log.Printf("boot failed at %s: %v", outcome.Stage, outcome.Err)
//	}
//
// On hardware Run never returns: the Launcher jumps into the application and
// a failure resets the board. Simulated collaborators return, so Run reports
// how the sequence ended.
//
// # Progress Tracking
//
// Track the update with a callback:
//
//	bl := bootloader.New(hw,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% (%d/%d bytes)\n",
//	            p.Phase, p.Percentage, p.BytesWritten, p.TotalBytes)
//	    }),
//	)
//
// # Configuration Options
//
// Timings follow the UAVCAN v0 recommendations by default and can be changed
// with functional options:
//
//	bl := bootloader.New(hw,
//	    bootloader.WithBootTimeout(5*time.Second),
//	    bootloader.WithWaitForGetNodeInfo(true),
//	    bootloader.WithServiceRetries(3),
//	    bootloader.WithServiceTimeout(time.Second),
//	    bootloader.WithLogger(bootloader.NewSlogLogger(slog.Default())),
//	)
//
// # Scheduling
//
// There are no goroutines. Periodic jobs (uptime, NodeStatus, GetNodeInfo
// responses) are timer callbacks serviced by every busy-wait loop, which
// plays the role of the hardware tick. A Bootloader must be driven from a
// single goroutine; State may be read from others.
//
// # Error Handling
//
// A failed run reports the stage it failed in:
//   - StageError: stage tag and cause, also broadcast as a two-character LogMessage
//   - VerificationError: the received image failed the CRC check
//   - FlashError: erase or program failure
//   - BootError: the vector table failed the pre-jump checks
//   - IncompleteTransferError: the file ended early
//   - ErrTimeout: a wait ran out
package bootloader
