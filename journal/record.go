// Copyright 2026 Arcentra Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package journal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

const (
	recordHeaderSize = 4 + 8 + 1 + 1 + 2 + 2 + 8 // len+sn+kind+reserved+keyExprLen+sourceIDLen+timeNano
	recordCRCSize    = 4
)

// Record is one archived history entry: a reliable cache sample that has
// been evicted from its in-memory ring and handed to the journal for
// longer-lived retention.
type Record struct {
	SN       uint64
	KeyExpr  string
	SourceID string
	Kind     byte
	TimeNano int64
	Payload  []byte
}

// EncodeRecord encodes r to its on-disk representation.
func EncodeRecord(r *Record) []byte {
	keyExprLen := len(r.KeyExpr)
	sourceIDLen := len(r.SourceID)
	payloadLen := len(r.Payload)
	totalLen := recordHeaderSize + keyExprLen + sourceIDLen + payloadLen + recordCRCSize
	buf := make([]byte, totalLen)

	binary.BigEndian.PutUint32(buf[0:4], uint32(totalLen))
	binary.BigEndian.PutUint64(buf[4:12], r.SN)
	buf[12] = r.Kind
	buf[13] = 0
	binary.BigEndian.PutUint16(buf[14:16], uint16(keyExprLen))
	binary.BigEndian.PutUint16(buf[16:18], uint16(sourceIDLen))
	binary.BigEndian.PutUint64(buf[18:26], uint64(r.TimeNano))

	off := recordHeaderSize
	copy(buf[off:off+keyExprLen], r.KeyExpr)
	off += keyExprLen
	copy(buf[off:off+sourceIDLen], r.SourceID)
	off += sourceIDLen
	copy(buf[off:off+payloadLen], r.Payload)
	off += payloadLen

	crc := crc32.ChecksumIEEE(buf[0:off])
	binary.BigEndian.PutUint32(buf[off:off+recordCRCSize], crc)
	return buf
}

// DecodeRecord decodes data into a Record, or returns nil if it fails its
// checksum or is too short to be a well-formed record.
func DecodeRecord(data []byte) *Record {
	if len(data) < recordHeaderSize+recordCRCSize {
		return nil
	}
	totalLen := binary.BigEndian.Uint32(data[0:4])
	if uint32(len(data)) < totalLen {
		return nil
	}
	keyExprLen := int(binary.BigEndian.Uint16(data[14:16]))
	sourceIDLen := int(binary.BigEndian.Uint16(data[16:18]))

	storedCRC := binary.BigEndian.Uint32(data[totalLen-recordCRCSize : totalLen])
	computedCRC := crc32.ChecksumIEEE(data[0 : totalLen-recordCRCSize])
	if storedCRC != computedCRC {
		return nil
	}

	off := recordHeaderSize
	keyExpr := string(data[off : off+keyExprLen])
	off += keyExprLen
	sourceID := string(data[off : off+sourceIDLen])
	off += sourceIDLen
	payloadEnd := int(totalLen) - recordCRCSize
	payload := append([]byte(nil), data[off:payloadEnd]...)

	return &Record{
		SN:       binary.BigEndian.Uint64(data[4:12]),
		Kind:     data[12],
		KeyExpr:  keyExpr,
		SourceID: sourceID,
		TimeNano: int64(binary.BigEndian.Uint64(data[18:26])),
		Payload:  payload,
	}
}

// ReadNextRecord reads the next record from r, returning (nil, nil) at a
// clean EOF.
func ReadNextRecord(r io.Reader) (*Record, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	totalLen := binary.BigEndian.Uint32(lenBuf)
	if totalLen < recordHeaderSize+recordCRCSize || totalLen > 64*1024*1024 {
		return nil, nil
	}
	buf := make([]byte, totalLen)
	copy(buf[0:4], lenBuf)
	if _, err := io.ReadFull(r, buf[4:]); err != nil {
		return nil, err
	}
	return DecodeRecord(buf), nil
}
