// Package rawline drives SCPI instruments over a raw line: a serial port or
// a plain file standing in for one.
//
// It serves legacy serial-only instruments that drivers address as if they
// were GPIB devices. Commands are written verbatim and replies are read one
// byte at a time up to the configured end delimiter. There is no out-of-band
// signalling, so WaitSRQ and DevClear do nothing and IsSerial reports true.
package rawline
