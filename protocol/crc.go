package protocol

import "github.com/howeyc/crc16"

// Checksum is the CRC-16/CCITT-FALSE of data (poly 0x1021, init 0xffff).
func Checksum(data []byte) uint16 {
	return crc16.ChecksumCCITTFalse(data)
}
