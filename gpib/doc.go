// Package gpib defines the capability surface device drivers use to talk to
// IEEE-488 (GPIB) instruments, independent of how the bus is reached.
//
// Two transports implement it:
//
//   - enet: a GPIB-to-Ethernet adapter speaking a binary, checksummed frame
//     protocol over a tcpconn connection.
//   - rawline: a serial port or plain file carrying SCPI text terminated by a
//     configurable end delimiter.
//
// Drivers should depend on Transport only and decode replies with the typed
// helpers of this package:
//
//	dev, err := rawline.New("/dev/ttyUSB0", gpib.Config{Timeout: 2 * time.Second, EndDelimiter: '\n'})
//	if err != nil {
//		return err
//	}
//	if err := dev.Init(ctx); err != nil {
//		return err
//	}
//	defer dev.Close()
//
//	temp, err := gpib.QueryFloat64(ctx, dev, "MEAS:TEMP?")
//
// Every call on a Transport blocks the calling goroutine until the
// instrument answered or the timeout elapsed. Drivers serving several
// instruments run one goroutine per device.
package gpib
