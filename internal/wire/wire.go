// Package wire implements the binary framing used by handles and
// backplanes that need a byte-for-byte transparent wire format: a fixed
// magic/version/kind header followed by length-prefixed fields, with
// strict trailing-byte and overflow-safe bounds checks on decode.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	wireVersion byte = 1
	kindItem    byte = 1
	kindMessage byte = 2
)

var (
	// ErrCorrupt is returned by every Decode* function when the input is
	// too short, carries the wrong magic/version/kind, or has a
	// length-prefixed field that overruns the buffer.
	ErrCorrupt = errors.New("tiercache: corrupt wire entry")
	magic4     = [...]byte{'T', 'I', 'E', 'R'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeItem frames a handle's (version, payload) envelope:
//
//	magic(4) | ver(1) | kind(1=item) | version(u64 be) | plen(u32 be) | payload(plen)
func EncodeItem(version uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(wireVersion)
	buf.WriteByte(kindItem)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], version)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeItem reverses EncodeItem.
func DecodeItem(b []byte) (version uint64, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != wireVersion || b[5] != kindItem {
		return 0, nil, ErrCorrupt
	}

	off := 6

	version = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	if off+4 > len(b) {
		return 0, nil, ErrCorrupt
	}
	plen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if plen < 0 || plen > len(b)-off {
		return 0, nil, ErrCorrupt
	}
	if off+plen != len(b) {
		return 0, nil, ErrCorrupt
	}

	return version, b[off : off+plen], nil
}

// Message: magic(4) | ver(1) | kind(1=message) | op(1) |
//
//	senderLen(u16 be) | sender(senderLen) |
//	keyLen(u16 be) | key(keyLen) |
//	regionLen(u16 be) | region(regionLen)
//
// EncodeMessage frames a backplane coherency message for transports (such
// as Redis Pub/Sub) that carry an opaque byte payload.
func EncodeMessage(senderID string, op byte, key, region string) ([]byte, error) {
	if len(senderID) > 0xFFFF || len(key) > 0xFFFF || len(region) > 0xFFFF {
		return nil, errors.New("tiercache: wire field exceeds 65535 bytes")
	}

	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 1 + 2 + len(senderID) + 2 + len(key) + 2 + len(region))

	buf.Write(magic4[:])
	buf.WriteByte(wireVersion)
	buf.WriteByte(kindMessage)
	buf.WriteByte(op)

	var u2 [2]byte
	writeField := func(s string) {
		binary.BigEndian.PutUint16(u2[:], uint16(len(s)))
		buf.Write(u2[:])
		buf.WriteString(s)
	}
	writeField(senderID)
	writeField(key)
	writeField(region)

	return buf.Bytes(), nil
}

// DecodeMessage reverses EncodeMessage.
func DecodeMessage(b []byte) (senderID string, op byte, key, region string, err error) {
	const hdr = 4 + 1 + 1 + 1
	if len(b) < hdr || !hasMagic(b) || b[4] != wireVersion || b[5] != kindMessage {
		return "", 0, "", "", ErrCorrupt
	}
	op = b[6]
	off := 7

	readField := func() (string, error) {
		if off+2 > len(b) {
			return "", ErrCorrupt
		}
		flen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if flen < 0 || flen > len(b)-off {
			return "", ErrCorrupt
		}
		s := string(b[off : off+flen])
		off += flen
		return s, nil
	}

	if senderID, err = readField(); err != nil {
		return "", 0, "", "", err
	}
	if key, err = readField(); err != nil {
		return "", 0, "", "", err
	}
	if region, err = readField(); err != nil {
		return "", 0, "", "", err
	}
	if off != len(b) {
		return "", 0, "", "", ErrCorrupt
	}
	return senderID, op, key, region, nil
}
