package protocol

// crcTable is the reflected CRC16 lookup table for polynomial 0xA001
var crcTable = makeCRCTable(0xA001)

func makeCRCTable(poly uint16) [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC16 computes the frame checksum (CRC-16/ARC: reflected 0xA001, seed 0,
// no final xor).
func CRC16(data []byte) uint16 {
	return UpdateCRC16(0, data)
}

// UpdateCRC16 continues a checksum computation over more bytes
func UpdateCRC16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = (crc >> 8) ^ crcTable[byte(crc)^b]
	}
	return crc
}
