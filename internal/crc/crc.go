// Package crc computes the CRC-32 checksum used by the reftable footer.
//
// This mirrors pebble's internal/crc package in name and shape (a tiny
// wrapper callers don't have to import hash/crc32 directly for), but not in
// algorithm: pebble's sstable footer uses a masked CRC-32C, while the
// reftable wire format (see spec.md section 6) uses plain CRC-32/IEEE over
// the footer bytes preceding the checksum field. hash/crc32 is the standard
// library's implementation of exactly that polynomial, so there is no
// ecosystem replacement to reach for here — see DESIGN.md's stdlib
// justification for this package.
package crc

import "hash/crc32"

// CRC is an IEEE CRC-32 checksum value.
type CRC uint32

// New returns the CRC-32/IEEE checksum of b.
func New(b []byte) CRC {
	return CRC(crc32.ChecksumIEEE(b))
}

// Value returns the checksum as a uint32, as stored on disk.
func (c CRC) Value() uint32 {
	return uint32(c)
}
