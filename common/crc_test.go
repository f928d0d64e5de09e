// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package common

import (
	"bytes"
	"testing"
)

func TestCRC8(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		result byte
	}{
		{bytes: []byte{0xbe, 0xef}, result: 0x92},
		{bytes: []byte{0x01, 0xa4}, result: 0x4d},
		{bytes: []byte{0xab, 0xcd}, result: 0x6f},
		{bytes: []byte{0x03, 0x00}, result: 0xac},
		{bytes: []byte{0x00, 0x00}, result: 0x81},
	}
	for _, test := range tests {
		res := CRC8(test.bytes)
		if res != test.result {
			t.Errorf("CRC8(%#v)!=0x%d received 0x%d", test.bytes, test.result, res)
		}
	}
}

func TestExtractCRC8(t *testing.T) {
	data, ok := ExtractCRC8([]byte{0xbe, 0xef, 0x92, 0x00, 0x00, 0x81})
	if !ok {
		t.Fatal("valid frame failed validation")
	}
	if !bytes.Equal(data, []byte{0xbe, 0xef, 0x00, 0x00}) {
		t.Errorf("incorrect data bytes %#v", data)
	}

	// A single corrupted data byte invalidates the whole frame.
	if _, ok = ExtractCRC8([]byte{0xbe, 0xee, 0x92, 0x00, 0x00, 0x81}); ok {
		t.Error("corrupted frame passed validation")
	}
	// Length not a multiple of the group size.
	if _, ok = ExtractCRC8([]byte{0xbe, 0xef, 0x92, 0x00}); ok {
		t.Error("short frame passed validation")
	}
	if _, ok = ExtractCRC8(nil); ok {
		t.Error("empty frame passed validation")
	}
}

func TestAppendCRC8(t *testing.T) {
	result := AppendCRC8([]byte{0x03, 0x00, 0xbe, 0xef})
	expected := []byte{0x03, 0x00, 0xac, 0xbe, 0xef, 0x92}
	if !bytes.Equal(result, expected) {
		t.Errorf("AppendCRC8() returned %#v expected %#v", result, expected)
	}
	data, ok := ExtractCRC8(result)
	if !ok || !bytes.Equal(data, []byte{0x03, 0x00, 0xbe, 0xef}) {
		t.Errorf("round-trip failed ok=%t data=%#v", ok, data)
	}
}
