package psfs

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	sfoHeaderSize     = 0x14
	sfoIndexEntrySize = 0x10
	sfoParamsKey      = "PARAMS"
)

var sfoMagic = []byte("\x00PSF")

type SfoDataType uint16

const (
	SfoUTF8Special SfoDataType = 0x0004
	SfoUTF8        SfoDataType = 0x0204
	SfoInt32       SfoDataType = 0x0404

	// SfoParam is never stored, it replaces the type of the PARAMS key.
	SfoParam SfoDataType = 0xFFFF
)

func (t SfoDataType) String() string {
	switch t {
	case SfoUTF8Special:
		return "UTF8_SPECIAL"
	case SfoUTF8:
		return "UTF8"
	case SfoInt32:
		return "INT32"
	case SfoParam:
		return "PARAM"
	}
	return fmt.Sprintf("SfoDataType(0x%04X)", uint16(t))
}

type SfoHeader struct {
	Version         [4]byte
	KeyTableOffset  uint32
	DataTableOffset uint32
	EntryCount      uint32
}

func (h *SfoHeader) VersionString() string {
	v := h.Version
	return fmt.Sprintf("%d.%d%d%d", v[0], v[1], v[2], v[3])
}

type SfoIndexEntry struct {
	KeyOffset     uint16
	DataType      SfoDataType
	DataLength    uint32
	DataMaxLength uint32
	DataOffset    uint32

	storedType uint16
}

// SfoValue is one key of the data table. Only the field matching Type is set.
type SfoValue struct {
	Key   string
	Type  SfoDataType
	Int   int32
	Text  string
	Bytes []byte

	entry *SfoIndexEntry
	dirty bool
}

func (v *SfoValue) String() string {
	switch v.Type {
	case SfoInt32:
		return strconv.Itoa(int(v.Int))
	case SfoParam:
		return fmt.Sprintf("%X", v.Bytes)
	}
	return v.Text
}

func (v *SfoValue) Entry() SfoIndexEntry {
	return *v.entry
}

type Sfo struct {
	Path    string
	Header  *SfoHeader
	Entries []*SfoIndexEntry
	Values  []*SfoValue

	byKey map[string]*SfoValue
	raw   []byte
}

func OpenSfo(filePath string) (*Sfo, error) {
	file, _, err := openFormat(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(io.NewSectionReader(file, 0, file.Size()))
	if err != nil {
		return nil, err
	}
	return newSfoAt(filePath, data)
}

// LoadSfo reads a PARAM.SFO through fs.
func LoadSfo(fs afero.Fs, filePath string) (*Sfo, error) {
	data, err := afero.ReadFile(fs, filePath)
	if err != nil {
		return nil, err
	}
	return newSfoAt(filePath, data)
}

func newSfoAt(filePath string, data []byte) (*Sfo, error) {
	sfo, err := NewSfo(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open sfo %v: %w", filePath, err)
	}
	sfo.Path = filePath
	return sfo, nil
}

func NewSfo(data []byte) (*Sfo, error) {
	if len(data) == 0 {
		return nil, newError(EmptyInput, "sfo", nil, nil)
	}
	r := NewReader(bytes.NewReader(data))
	header, err := parseHeader(r, "SFO", sfoMagic, readSfoHeaderFields)
	if err != nil {
		return nil, err
	}
	sfo := &Sfo{Header: header, byKey: map[string]*SfoValue{}, raw: append([]byte{}, data...)}
	for i := 0; i < int(header.EntryCount); i++ {
		entry, err := readSfoIndexEntry(r)
		if err != nil {
			return nil, fmt.Errorf("sfo index entry #%v: %w", i, err)
		}
		sfo.Entries = append(sfo.Entries, entry)
	}
	for i, entry := range sfo.Entries {
		value, err := sfo.readValue(r, entry)
		if err != nil {
			return nil, fmt.Errorf("sfo value #%v: %w", i, err)
		}
		zap.S().Debugf("SFO entry #%v (%v/%v): %v (%v) -> %v", i, entry.DataLength, entry.DataMaxLength, value.Key, value.Type, value)
		sfo.Values = append(sfo.Values, value)
		sfo.byKey[value.Key] = value
	}
	return sfo, nil
}

func readSfoHeaderFields(r *Reader, h *SfoHeader) error {
	version, err := r.ReadBytes(4)
	if err != nil {
		return err
	}
	copy(h.Version[:], version)
	for _, dst := range []*uint32{&h.KeyTableOffset, &h.DataTableOffset, &h.EntryCount} {
		if *dst, err = r.ReadU32(littleEndian); err != nil {
			return err
		}
	}
	zap.S().Debugf("SFO version %v, key table 0x%X, data table 0x%X, %v entries",
		h.VersionString(), h.KeyTableOffset, h.DataTableOffset, h.EntryCount)
	return nil
}

func readSfoIndexEntry(r *Reader) (*SfoIndexEntry, error) {
	e := &SfoIndexEntry{}
	var err error
	if e.KeyOffset, err = r.ReadU16(littleEndian); err != nil {
		return nil, err
	}
	if e.storedType, err = r.ReadU16(littleEndian); err != nil {
		return nil, err
	}
	e.DataType = SfoDataType(e.storedType)
	switch e.DataType {
	case SfoUTF8Special, SfoUTF8, SfoInt32:
	default:
		return nil, newError(UnknownVariant, "sfo data type", nil, e.DataType)
	}
	for _, dst := range []*uint32{&e.DataLength, &e.DataMaxLength, &e.DataOffset} {
		if *dst, err = r.ReadU32(littleEndian); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (s *Sfo) readValue(r *Reader, e *SfoIndexEntry) (*SfoValue, error) {
	if _, err := r.Seek(int64(s.Header.KeyTableOffset)+int64(e.KeyOffset), io.SeekStart); err != nil {
		return nil, err
	}
	key, err := r.ReadStringNullTerminated(nil)
	if err != nil {
		return nil, fmt.Errorf("key: %w", err)
	}
	if key == sfoParamsKey {
		e.DataType = SfoParam
	}
	v := &SfoValue{Key: key, Type: e.DataType, entry: e}

	if _, err := r.Seek(int64(s.Header.DataTableOffset)+int64(e.DataOffset), io.SeekStart); err != nil {
		return nil, err
	}
	switch e.DataType {
	case SfoInt32:
		v.Int, err = r.ReadI32(littleEndian)
	case SfoUTF8:
		v.Text, err = r.ReadStringNullTerminated(nil)
	case SfoUTF8Special:
		v.Text, err = r.ReadFixedString(int(e.DataLength), nil)
	case SfoParam:
		v.Bytes, err = r.ReadBytes(int(e.DataLength))
	}
	if err != nil {
		return nil, fmt.Errorf("%v: %w", key, err)
	}
	return v, nil
}

func (s *Sfo) Value(key string) (*SfoValue, bool) {
	v, ok := s.byKey[key]
	return v, ok
}

func (s *Sfo) Keys() []string {
	keys := make([]string, len(s.Values))
	for i, v := range s.Values {
		keys[i] = v.Key
	}
	return keys
}

// GetString returns the text of a UTF8 key, or "" when absent.
func (s *Sfo) GetString(key string) string {
	if v, ok := s.byKey[key]; ok && (v.Type == SfoUTF8 || v.Type == SfoUTF8Special) {
		return v.Text
	}
	return ""
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n < 0 {
		n = 0
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SetValue replaces the value of an existing key. Strings longer than the
// reserved space are truncated with a warning, UTF8 keeping room for the NUL.
func (s *Sfo) SetValue(key string, value string) error {
	v, ok := s.byKey[key]
	if !ok {
		zap.S().Errorf("Key %v does not exist in the key table", key)
		return newError(UnknownVariant, "sfo key", nil, key)
	}
	e := v.entry
	switch v.Type {
	case SfoInt32:
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return wrapError(ConstantViolation, "sfo int32 "+key, err)
		}
		v.Int = int32(n)
	case SfoUTF8:
		limit := int(e.DataMaxLength) - 1
		if len(value) > limit {
			zap.S().Warnf("Data too long, truncating to %v bytes", limit)
			value = truncateUTF8(value, limit)
		}
		v.Text = value
		e.DataLength = uint32(len(value) + 1)
	case SfoUTF8Special:
		limit := int(e.DataMaxLength)
		if len(value) > limit {
			zap.S().Warnf("Data too long, truncating to %v bytes", limit)
			value = truncateUTF8(value, limit)
		}
		v.Text = value
		e.DataLength = uint32(len(value))
	default:
		zap.S().Errorf("Invalid data type for entry, specified %v", v.Type)
		return newError(UnsupportedOperation, "set sfo "+v.Type.String(), nil, key)
	}
	v.dirty = true
	return nil
}

// Serialize rewrites the modified values over a copy of the parsed bytes, so
// an unmodified SFO serializes to its input.
func (s *Sfo) Serialize() ([]byte, error) {
	buf := &memBuffer{buf: append([]byte{}, s.raw...)}
	w := NewWriter(buf)
	for i, v := range s.Values {
		if !v.dirty {
			continue
		}
		e := v.entry
		if _, err := w.Seek(int64(sfoHeaderSize+i*sfoIndexEntrySize), io.SeekStart); err != nil {
			return nil, err
		}
		if err := s.writeIndexEntry(w, e); err != nil {
			return nil, err
		}
		if _, err := w.Seek(int64(s.Header.DataTableOffset)+int64(e.DataOffset), io.SeekStart); err != nil {
			return nil, err
		}
		var data []byte
		switch v.Type {
		case SfoInt32:
			data = make([]byte, 4)
			littleEndian.PutUint32(data, uint32(v.Int))
		case SfoUTF8:
			data = append([]byte(v.Text), 0x0)
		case SfoUTF8Special:
			data = []byte(v.Text)
		}
		if pad := int(e.DataMaxLength) - len(data); pad > 0 {
			data = append(data, make([]byte, pad)...)
		}
		if err := w.WriteBytes(data); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (s *Sfo) writeIndexEntry(w *Writer, e *SfoIndexEntry) error {
	if err := w.WriteU16(littleEndian, e.KeyOffset); err != nil {
		return err
	}
	if err := w.WriteU16(littleEndian, e.storedType); err != nil {
		return err
	}
	for _, v := range []uint32{e.DataLength, e.DataMaxLength, e.DataOffset} {
		if err := w.WriteU32(littleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

// Write stores the serialized SFO at filePath, or back at s.Path when empty.
func (s *Sfo) Write(fs afero.Fs, filePath string) error {
	if filePath == "" {
		filePath = s.Path
	}
	data, err := s.Serialize()
	if err != nil {
		return err
	}
	zap.S().Infof("Writing SFO file %v", filePath)
	return afero.WriteFile(fs, filePath, data, 0644)
}
