// Package wire implements the framed binary protocol: a count header
// followed by a sequence of length-prefixed file records, each acknowledged
// with a single byte before the next one may begin.
//
// The framing technique — big-endian uint64 length prefixes ahead of each
// variable-length field — is the standard hand-rolled approach for fixed
// binary framing over a raw stream.
/*
 * Copyright (c) 2024, quidich data-transfer project contributors.
 */
package wire

import (
	"encoding/binary"
	"io"

	"github.com/quidich/framestream/cmn"
)

// Size caps enforced by the receiver.
const (
	MaxNameLen = 4096
	MaxDestLen = 4096
	MaxKeyLen  = 256
	MaxSideLen = 64
)

// AckByte is the single-byte acknowledgement sent after a file record is
// durably written.
const AckByte byte = 0x00

// Header is the fixed-shape metadata of one file record (everything but the
// payload bytes themselves).
type Header struct {
	Name     string
	DestPath string
	Key      string
	Side     string
	Size     uint64
}

// WriteCountHeader emits the optional uint64 count header: total number of
// file records that will follow on this connection.
func WriteCountHeader(w io.Writer, count uint64) error {
	return writeU64(w, count)
}

// ReadCountHeader reads the count header written by WriteCountHeader.
func ReadCountHeader(r io.Reader) (uint64, error) {
	return readU64(r)
}

// WriteHeader encodes a Header's length-prefixed fields (everything up to,
// but not including, the payload) onto w.
func WriteHeader(w io.Writer, h Header) error {
	if err := writeString(w, h.Name); err != nil {
		return err
	}
	if err := writeString(w, h.DestPath); err != nil {
		return err
	}
	if err := writeString(w, h.Key); err != nil {
		return err
	}
	if err := writeString(w, h.Side); err != nil {
		return err
	}
	return writeU64(w, h.Size)
}

// ReadHeader decodes a Header, enforcing the size caps above. A cap
// violation is a fatal protocol error (wrapped with cmn.ErrProtocolViolation)
// and the caller must close the connection without reading further.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	var err error

	if h.Name, err = readCappedString(r, MaxNameLen, "name"); err != nil {
		return h, err
	}
	if h.DestPath, err = readCappedString(r, MaxDestLen, "dest_path"); err != nil {
		return h, err
	}
	if h.Key, err = readCappedString(r, MaxKeyLen, "key"); err != nil {
		return h, err
	}
	if h.Side, err = readCappedString(r, MaxSideLen, "side"); err != nil {
		return h, err
	}
	if h.Size, err = readU64(r); err != nil {
		return h, cmn.Wrap(cmn.ErrProtocolViolation, err, "read size")
	}
	return h, nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU64(w, uint64(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	_, err := io.WriteString(w, s)
	return err
}

func readCappedString(r io.Reader, cap int, field string) (string, error) {
	n, err := readU64(r)
	if err != nil {
		return "", cmn.Wrap(cmn.ErrProtocolViolation, err, "read "+field+"_len")
	}
	if n > uint64(cap) {
		return "", cmn.Wrapf(cmn.ErrProtocolViolation, nil,
			"%s_len %d exceeds cap %d", field, n, cap)
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", cmn.Wrap(cmn.ErrProtocolViolation, err, "read "+field)
	}
	return string(buf), nil
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// WriteAck/ReadAck exchange the single-byte ACK after a file record.
func WriteAck(w io.Writer) error {
	_, err := w.Write([]byte{AckByte})
	return err
}

func ReadAck(r io.Reader) error {
	var b [1]byte
	n, err := io.ReadFull(r, b[:])
	if err != nil || n != 1 {
		return cmn.Wrap(cmn.ErrProtocolViolation, err, "read ack")
	}
	return nil
}
