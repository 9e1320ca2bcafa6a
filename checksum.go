package enet

import (
	"encoding/binary"
	"hash/crc32"
)

// datagramChecksum is the CRC32 of data with the four checksum bytes at
// offset replaced by seed.
func datagramChecksum(data []byte, offset int, seed uint32) uint32 {
	var s [4]byte
	binary.BigEndian.PutUint32(s[:], seed)

	crc := crc32.ChecksumIEEE(data[:offset])
	crc = crc32.Update(crc, crc32.IEEETable, s[:])
	return crc32.Update(crc, crc32.IEEETable, data[offset+4:])
}
