// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, a CRC8 calculation
package common

// CRC8 calculates the 8-bit CRC of the byte slice parameter and returns the
// calculated value. CRC bytes are used in sensors from TI and Sensirion.
func CRC8(bytes []byte) byte {
	var crc byte = 0xff
	for _, val := range bytes {
		crc ^= val
		for i := 0; i < 8; i++ {
			if (crc & 0x80) == 0 {
				crc <<= 1
			} else {
				crc = (byte)((crc << 1) ^ 0x31)
			}
		}
	}
	return crc
}

// ExtractCRC8 validates a sensor response laid out as repeating groups of
// two data bytes followed by one CRC8 byte. It returns the data bytes with
// the checksum bytes stripped. ok is false if the buffer length is not a
// multiple of three, or if any group fails validation. On failure no data
// is returned, even for the groups that validated.
func ExtractCRC8(bytes []byte) (data []byte, ok bool) {
	if len(bytes) == 0 || len(bytes)%3 != 0 {
		return nil, false
	}
	data = make([]byte, 0, len(bytes)/3*2)
	for ix := 0; ix < len(bytes); ix += 3 {
		if CRC8(bytes[ix:ix+2]) != bytes[ix+2] {
			return nil, false
		}
		data = append(data, bytes[ix], bytes[ix+1])
	}
	return data, true
}

// AppendCRC8 converts pairs of data bytes into the wire format expected by
// Sensirion sensors, with a CRC8 byte following every two data bytes. The
// length of bytes must be even.
func AppendCRC8(bytes []byte) []byte {
	result := make([]byte, 0, len(bytes)/2*3)
	for ix := 0; ix+1 < len(bytes); ix += 2 {
		result = append(result, bytes[ix], bytes[ix+1], CRC8(bytes[ix:ix+2]))
	}
	return result
}
