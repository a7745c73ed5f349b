package psfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"regexp"
	"unicode/utf8"

	"github.com/vazrupe/endibuf"
	"golang.org/x/text/encoding"
)

var (
	bigEndian    = binary.BigEndian
	littleEndian = binary.LittleEndian

	strARegex = regexp.MustCompile(`^[ A-Za-z0-9_!"%&'()*+,\-./:;<=>?]*$`)
	strDRegex = regexp.MustCompile(`^[ A-Z0-9_]*$`)
)

// Reader reads fixed width values from a seekable stream. Every call states
// its byte order, there is no default.
type Reader struct {
	rs io.ReadSeeker
}

func NewReader(rs io.ReadSeeker) *Reader {
	return &Reader{rs: rs}
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	return r.rs.Seek(offset, whence)
}

func (r *Reader) Tell() (int64, error) {
	return r.rs.Seek(0, io.SeekCurrent)
}

// ReadBytes reads exactly n bytes or fails with TruncatedInput.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r.rs, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newError(TruncatedInput, "", n, read)
		}
		return nil, err
	}
	return buf, nil
}

func (r *Reader) readData(order binary.ByteOrder, size int, v interface{}) error {
	buf, err := r.ReadBytes(size)
	if err != nil {
		return err
	}
	return decode(buf, order, v)
}

func decode(buf []byte, order binary.ByteOrder, v interface{}) error {
	er := endibuf.NewReader(bytes.NewReader(buf))
	er.Endian = order
	return er.ReadData(v)
}

func (r *Reader) ReadU8() (uint8, error) {
	var v uint8
	err := r.readData(binary.BigEndian, 1, &v)
	return v, err
}

func (r *Reader) ReadU16(order binary.ByteOrder) (uint16, error) {
	var v uint16
	err := r.readData(order, 2, &v)
	return v, err
}

func (r *Reader) ReadU32(order binary.ByteOrder) (uint32, error) {
	var v uint32
	err := r.readData(order, 4, &v)
	return v, err
}

func (r *Reader) ReadU64(order binary.ByteOrder) (uint64, error) {
	var v uint64
	err := r.readData(order, 8, &v)
	return v, err
}

func (r *Reader) ReadI8() (int8, error) {
	var v int8
	err := r.readData(binary.BigEndian, 1, &v)
	return v, err
}

func (r *Reader) ReadI16(order binary.ByteOrder) (int16, error) {
	var v int16
	err := r.readData(order, 2, &v)
	return v, err
}

func (r *Reader) ReadI32(order binary.ByteOrder) (int32, error) {
	var v int32
	err := r.readData(order, 4, &v)
	return v, err
}

func (r *Reader) ReadI64(order binary.ByteOrder) (int64, error) {
	var v int64
	err := r.readData(order, 8, &v)
	return v, err
}

// ReadU40 reads the 5 byte big endian integers used by PSARC TOC entries.
func (r *Reader) ReadU40() (uint64, error) {
	buf, err := r.ReadBytes(5)
	if err != nil {
		return 0, err
	}
	return UnpackU40(buf), nil
}

// ReadStringNullTerminated reads one byte at a time up to a NUL and decodes
// the bytes before it. A nil enc means UTF-8.
func (r *Reader) ReadStringNullTerminated(enc encoding.Encoding) (string, error) {
	var data []byte
	for {
		b, err := r.ReadU8()
		if err != nil {
			return "", err
		}
		if b == 0x0 {
			break
		}
		data = append(data, b)
	}
	return decodeString(data, enc)
}

func (r *Reader) ReadFixedString(n int, enc encoding.Encoding) (string, error) {
	data, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return decodeString(data, enc)
}

func (r *Reader) ReadStrA(n int) (string, error) {
	data, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return UnpackStrA(data)
}

func (r *Reader) ReadStrD(n int) (string, error) {
	data, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return UnpackStrD(data)
}

func decodeString(data []byte, enc encoding.Encoding) (string, error) {
	if enc == nil {
		if !utf8.Valid(data) {
			return "", newError(InvalidCharacterSet, "utf-8", nil, data)
		}
		return string(data), nil
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", wrapError(InvalidCharacterSet, "decode", err)
	}
	return string(decoded), nil
}

func UnpackStrA(data []byte) (string, error) {
	s := string(data)
	if !strARegex.MatchString(s) {
		return "", newError(InvalidCharacterSet, "a-characters", strARegex.String(), s)
	}
	return s, nil
}

func UnpackStrD(data []byte) (string, error) {
	s := string(data)
	if !strDRegex.MatchString(s) {
		return "", newError(InvalidCharacterSet, "d-characters", strDRegex.String(), s)
	}
	return s, nil
}

func UnpackU40(b []byte) uint64 {
	var v uint64
	for _, x := range b[:5] {
		v = v<<8 | uint64(x)
	}
	return v
}

// Paired endian fields store the value little endian first, then big endian.

func UnpackBothEndianU16(b []byte) (uint16, error) {
	le := binary.LittleEndian.Uint16(b[0:2])
	be := binary.BigEndian.Uint16(b[2:4])
	if le != be {
		return 0, newError(EndianMismatch, "u16", le, be)
	}
	return le, nil
}

func UnpackBothEndianU32(b []byte) (uint32, error) {
	le := binary.LittleEndian.Uint32(b[0:4])
	be := binary.BigEndian.Uint32(b[4:8])
	if le != be {
		return 0, newError(EndianMismatch, "u32", le, be)
	}
	return le, nil
}

func UnpackBothEndianU64(b []byte) (uint64, error) {
	le := binary.LittleEndian.Uint64(b[0:8])
	be := binary.BigEndian.Uint64(b[8:16])
	if le != be {
		return 0, newError(EndianMismatch, "u64", le, be)
	}
	return le, nil
}

func UnpackBothEndianI16(b []byte) (int16, error) {
	v, err := UnpackBothEndianU16(b)
	return int16(v), err
}

func UnpackBothEndianI32(b []byte) (int32, error) {
	v, err := UnpackBothEndianU32(b)
	return int32(v), err
}

// Writer is the write counterpart used by SFO serialization.
type Writer struct {
	ws io.WriteSeeker
}

func NewWriter(ws io.WriteSeeker) *Writer {
	return &Writer{ws: ws}
}

func (w *Writer) Seek(offset int64, whence int) (int64, error) {
	return w.ws.Seek(offset, whence)
}

func (w *Writer) writeData(order binary.ByteOrder, v interface{}) error {
	ew := endibuf.NewWriter(w.ws)
	ew.Endian = order
	return ew.WriteData(v)
}

func (w *Writer) WriteBytes(b []byte) error {
	_, err := w.ws.Write(b)
	return err
}

func (w *Writer) WriteU16(order binary.ByteOrder, v uint16) error {
	return w.writeData(order, v)
}

func (w *Writer) WriteU32(order binary.ByteOrder, v uint32) error {
	return w.writeData(order, v)
}

func (w *Writer) WriteI32(order binary.ByteOrder, v int32) error {
	return w.writeData(order, v)
}

func (w *Writer) WriteStringNullTerminated(s string) error {
	return w.WriteBytes(append([]byte(s), 0x0))
}

// memBuffer is an in-memory io.WriteSeeker that grows on demand.
type memBuffer struct {
	buf []byte
	pos int
}

func (m *memBuffer) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		m.buf = append(m.buf, make([]byte, end-len(m.buf))...)
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	m.pos = int(abs)
	return abs, nil
}

func (m *memBuffer) Bytes() []byte {
	return m.buf
}
