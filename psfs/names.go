package psfs

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

type namedCodec struct {
	name string
	enc  encoding.Encoding
}

// knownCodecs is tried in order when a name is neither UTF-8 nor listed in
// the codec table.
var knownCodecs = []namedCodec{
	{"big5", traditionalchinese.Big5},
	{"cp037", charmap.CodePage037},
	{"cp437", charmap.CodePage437},
	{"cp850", charmap.CodePage850},
	{"cp852", charmap.CodePage852},
	{"cp855", charmap.CodePage855},
	{"cp858", charmap.CodePage858},
	{"cp860", charmap.CodePage860},
	{"cp862", charmap.CodePage862},
	{"cp863", charmap.CodePage863},
	{"cp865", charmap.CodePage865},
	{"cp866", charmap.CodePage866},
	{"cp874", charmap.Windows874},
	{"cp932", japanese.ShiftJIS},
	{"cp949", korean.EUCKR},
	{"cp950", traditionalchinese.Big5},
	{"cp1047", charmap.CodePage1047},
	{"cp1140", charmap.CodePage1140},
	{"cp1250", charmap.Windows1250},
	{"cp1251", charmap.Windows1251},
	{"cp1252", charmap.Windows1252},
	{"cp1253", charmap.Windows1253},
	{"cp1254", charmap.Windows1254},
	{"cp1255", charmap.Windows1255},
	{"cp1256", charmap.Windows1256},
	{"cp1257", charmap.Windows1257},
	{"cp1258", charmap.Windows1258},
	{"euc_jp", japanese.EUCJP},
	{"euc_kr", korean.EUCKR},
	{"gb2312", simplifiedchinese.GBK},
	{"gbk", simplifiedchinese.GBK},
	{"gb18030", simplifiedchinese.GB18030},
	{"hz", simplifiedchinese.HZGB2312},
	{"iso2022_jp", japanese.ISO2022JP},
	{"latin_1", charmap.ISO8859_1},
	{"iso8859_2", charmap.ISO8859_2},
	{"iso8859_3", charmap.ISO8859_3},
	{"iso8859_4", charmap.ISO8859_4},
	{"iso8859_5", charmap.ISO8859_5},
	{"iso8859_6", charmap.ISO8859_6},
	{"iso8859_7", charmap.ISO8859_7},
	{"iso8859_8", charmap.ISO8859_8},
	{"iso8859_9", charmap.ISO8859_9},
	{"iso8859_10", charmap.ISO8859_10},
	{"iso8859_13", charmap.ISO8859_13},
	{"iso8859_14", charmap.ISO8859_14},
	{"iso8859_15", charmap.ISO8859_15},
	{"iso8859_16", charmap.ISO8859_16},
	{"koi8_r", charmap.KOI8R},
	{"koi8_u", charmap.KOI8U},
	{"mac_cyrillic", charmap.MacintoshCyrillic},
	{"mac_roman", charmap.Macintosh},
	{"shift_jis", japanese.ShiftJIS},
	{"utf_16_be", unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)},
	{"utf_16_le", unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)},
	{"big5hkscs", traditionalchinese.Big5},
	{"cp936", simplifiedchinese.GBK},
	{"cp65001", unicode.UTF8},
	{"iso2022_jp_1", japanese.ISO2022JP},
	{"iso2022_jp_ext", japanese.ISO2022JP},
	{"iso8859_11", charmap.Windows874},
	{"tis_620", charmap.Windows874},
	{"utf_8", unicode.UTF8},
	{"utf_8_sig", unicode.UTF8BOM},
	{"utf_16", unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)},
	{"utf_32", utf32.UTF32(utf32.LittleEndian, utf32.UseBOM)},
	{"utf_32_be", utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM)},
	{"utf_32_le", utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM)},
}

var codecAliases = map[string]string{
	"sjis":         "shift_jis",
	"shiftjis":     "shift_jis",
	"latin1":       "latin_1",
	"iso8859_1":    "latin_1",
	"eucjp":        "euc_jp",
	"euckr":        "euc_kr",
	"utf8":         "utf_8",
	"u8":           "utf_8",
	"utf_16le":     "utf_16_le",
	"utf_16be":     "utf_16_be",
	"utf_32le":     "utf_32_le",
	"utf_32be":     "utf_32_be",
	"ms932":        "cp932",
	"ms_kanji":     "shift_jis",
	"ms936":        "cp936",
	"big5_hkscs":   "big5hkscs",
	"tis620":       "tis_620",
	"macroman":     "mac_roman",
	"koi8r":        "koi8_r",
	"koi8u":        "koi8_u",
	"windows_1252": "cp1252",
}

// LookupCodec resolves a codec name as written in the codec table. Names
// outside the built in list are looked up in the IANA registry.
func LookupCodec(name string) (encoding.Encoding, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	if alias, ok := codecAliases[normalized]; ok {
		normalized = alias
	}
	for _, c := range knownCodecs {
		if c.name == normalized {
			return c.enc, nil
		}
	}
	enc, err := ianaindex.IANA.Encoding(strings.TrimSpace(name))
	if err != nil || enc == nil {
		return nil, newError(UnknownVariant, "codec", nil, name)
	}
	return enc, nil
}

// NameCodecTable maps the SHA-1 of an undecodable entry name to the codec
// that decodes it. It is filled once and never changed afterwards.
type NameCodecTable struct {
	codecs map[[sha1.Size]byte]string
}

func NewNameCodecTable() *NameCodecTable {
	return &NameCodecTable{codecs: map[[sha1.Size]byte]string{}}
}

// LoadNameCodecTable reads lines of "<hex sha1>,<codec>". Empty lines and
// lines starting with # are skipped.
func LoadNameCodecTable(r io.Reader) (*NameCodecTable, error) {
	table := NewNameCodecTable()
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		parts := strings.SplitN(text, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("name codec table line %v: expected <sha1>,<codec>", line)
		}
		digest, err := hex.DecodeString(strings.TrimSpace(parts[0]))
		if err != nil || len(digest) != sha1.Size {
			return nil, fmt.Errorf("name codec table line %v: invalid sha1 %q", line, parts[0])
		}
		var key [sha1.Size]byte
		copy(key[:], digest)
		table.codecs[key] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

func (t *NameCodecTable) Add(digest [sha1.Size]byte, codec string) {
	t.codecs[digest] = codec
}

func (t *NameCodecTable) Lookup(digest [sha1.Size]byte) (string, bool) {
	if t == nil {
		return "", false
	}
	codec, ok := t.codecs[digest]
	return codec, ok
}

func (t *NameCodecTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.codecs)
}

// NameCandidate is one codec that decoded a name without replacement runes.
type NameCandidate struct {
	Codec string
	Name  string
}

// NameDecoder turns raw PKG entry names into strings. With Guess set the
// first candidate codec is used instead of failing.
type NameDecoder struct {
	Table *NameCodecTable
	Guess bool
}

func decodeStrict(data []byte, enc encoding.Encoding) (string, bool) {
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	s := string(decoded)
	if !utf8.ValidString(s) || strings.ContainsRune(s, utf8.RuneError) {
		return "", false
	}
	return s, true
}

// Candidates lists every known codec that decodes data cleanly.
func Candidates(data []byte) []NameCandidate {
	var out []NameCandidate
	for _, c := range knownCodecs {
		if s, ok := decodeStrict(data, c.enc); ok {
			out = append(out, NameCandidate{Codec: c.name, Name: s})
		}
	}
	return out
}

func (d *NameDecoder) Decode(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	digest := sha1.Sum(data)
	if codec, ok := d.Table.Lookup(digest); ok {
		enc, err := LookupCodec(codec)
		if err != nil {
			return "", err
		}
		name, ok := decodeStrict(data, enc)
		if !ok {
			return "", newError(InvalidCharacterSet, "entry name", codec, data)
		}
		return name, nil
	}

	candidates := Candidates(data)
	for _, c := range candidates {
		zap.S().Errorf("%-15v(%v,%-15v,%q) -> %v", c.Codec, strings.ToUpper(hex.EncodeToString(digest[:])), c.Codec, data, c.Name)
	}
	if d.Guess && len(candidates) > 0 {
		zap.S().Warnf("Guessed codec %v for entry name %v", candidates[0].Codec, candidates[0].Name)
		return candidates[0].Name, nil
	}
	return "", newError(InvalidCharacterSet, "entry name", "utf-8", data)
}
