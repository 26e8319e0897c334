package classic

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// DefaultKey is the factory transport key
var DefaultKey = Key{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// KnownKey is a built-in dictionary entry
type KnownKey struct {
	Key   Key
	Usage string
}

// DefaultKeys is the built-in dictionary, most common keys first.
var DefaultKeys = []KnownKey{
	{Key{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, "Factory Default"},
	{Key{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5}, "MAD / HID Access Control"},
	{Key{0xD3, 0xF7, 0xD3, 0xF7, 0xD3, 0xF7}, "NFC Forum"},
	{Key{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, "Blank / Hotel"},
	{Key{0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6}, ""},
	{Key{0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5}, "HID Access Control (B)"},
	{Key{0x4D, 0x3A, 0x99, 0xC3, 0x51, 0xDD}, ""},
	{Key{0x1A, 0x98, 0x2C, 0x7E, 0x45, 0x9A}, "MIFARE Standard"},
	{Key{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, ""},
	{Key{0x71, 0x4C, 0x5C, 0x88, 0x6E, 0x97}, ""},
	{Key{0x58, 0x7E, 0xE5, 0xF9, 0x35, 0x0F}, ""},
	{Key{0xA0, 0x47, 0x8C, 0xC3, 0x90, 0x91}, ""},
	{Key{0xA0, 0xB0, 0xC0, 0xD0, 0xE0, 0xF0}, ""},
	{Key{0xA1, 0xB1, 0xC1, 0xD1, 0xE1, 0xF1}, ""},
	{Key{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC}, ""},
	{Key{0x12, 0x34, 0xAB, 0xCD, 0xEF, 0x12}, "Sony"},
	{Key{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, ""},
	{Key{0x10, 0x20, 0x30, 0x40, 0x50, 0x60}, ""},
	{Key{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}, ""},
	{Key{0x12, 0x12, 0x12, 0x12, 0x12, 0x12}, ""},
	{Key{0xF0, 0xF0, 0xF0, 0xF0, 0xF0, 0xF0}, ""},
	{Key{0x0F, 0x0F, 0x0F, 0x0F, 0x0F, 0x0F}, ""},
	{Key{0x53, 0x3C, 0xB6, 0xC7, 0x23, 0xF6}, ""},
	{Key{0x8F, 0xD0, 0xA4, 0xF2, 0x56, 0xE9}, ""},

	// repeated-byte patterns
	{Key{0x11, 0x11, 0x11, 0x11, 0x11, 0x11}, ""},
	{Key{0x22, 0x22, 0x22, 0x22, 0x22, 0x22}, ""},
	{Key{0x33, 0x33, 0x33, 0x33, 0x33, 0x33}, ""},
	{Key{0x44, 0x44, 0x44, 0x44, 0x44, 0x44}, ""},
	{Key{0x55, 0x55, 0x55, 0x55, 0x55, 0x55}, ""},
	{Key{0x66, 0x66, 0x66, 0x66, 0x66, 0x66}, ""},
	{Key{0x77, 0x77, 0x77, 0x77, 0x77, 0x77}, ""},
	{Key{0x88, 0x88, 0x88, 0x88, 0x88, 0x88}, ""},
	{Key{0x99, 0x99, 0x99, 0x99, 0x99, 0x99}, ""},

	// installer patterns
	{Key{0x14, 0x53, 0x14, 0x53, 0x14, 0x53}, ""},
	{Key{0x19, 0x23, 0x19, 0x23, 0x19, 0x23}, ""},
	{Key{0x34, 0x34, 0x34, 0x34, 0x34, 0x34}, ""},
	{Key{0x06, 0x06, 0x06, 0x06, 0x06, 0x06}, ""},
	{Key{0x35, 0x35, 0x35, 0x35, 0x35, 0x35}, ""},
	{Key{0x01, 0x01, 0x01, 0x01, 0x01, 0x01}, ""},
	{Key{0x63, 0x63, 0x63, 0x63, 0x63, 0x63}, ""},
	{Key{0x12, 0x34, 0x56, 0x12, 0x34, 0x56}, ""},
	{Key{0x12, 0x31, 0x23, 0x12, 0x31, 0x23}, ""},
	{Key{0x20, 0x23, 0x20, 0x23, 0x20, 0x23}, ""},
	{Key{0x20, 0x24, 0x20, 0x24, 0x20, 0x24}, ""},
	{Key{0x20, 0x25, 0x20, 0x25, 0x20, 0x25}, ""},
	{Key{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, ""},
	{Key{0xAA, 0xAA, 0xAA, 0xBB, 0xBB, 0xBB}, ""},
	{Key{0xAD, 0xAD, 0xAD, 0xAD, 0xAD, 0xAD}, ""},
	{Key{0x12, 0x34, 0x56, 0x65, 0x43, 0x21}, ""},
	{Key{0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF}, ""},
}

// Dictionary is an ordered, deduplicated list of candidate keys.
// It is read-only once built.
type Dictionary struct {
	keys []Key
	// builtin is the number of leading keys that came from the built-in list
	builtin int
}

// NewDictionary builds a dictionary from keys, dropping repeats but keeping
// the position of the first occurrence.
func NewDictionary(keys ...Key) *Dictionary {
	d := &Dictionary{}
	d.append(keys)
	d.builtin = len(d.keys)
	return d
}

// DefaultDictionary returns the built-in dictionary
func DefaultDictionary() *Dictionary {
	keys := make([]Key, len(DefaultKeys))
	for i, k := range DefaultKeys {
		keys[i] = k.Key
	}
	return NewDictionary(keys...)
}

func (d *Dictionary) append(keys []Key) int {
	seen := make(map[Key]struct{}, len(d.keys)+len(keys))
	for _, k := range d.keys {
		seen[k] = struct{}{}
	}
	added := 0
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		d.keys = append(d.keys, k)
		added++
	}
	return added
}

// Extend returns a new dictionary with extra keys tried after the existing ones.
func (d *Dictionary) Extend(extra ...Key) *Dictionary {
	out := &Dictionary{keys: append([]Key(nil), d.keys...), builtin: d.builtin}
	out.append(extra)
	return out
}

// Keys returns a copy of the keys in attempt order
func (d *Dictionary) Keys() []Key {
	return append([]Key(nil), d.keys...)
}

func (d *Dictionary) Len() int {
	return len(d.keys)
}

// Builtin returns how many leading keys are built-in
func (d *Dictionary) Builtin() int {
	return d.builtin
}

// Contains reports whether k is in the dictionary
func (d *Dictionary) Contains(k Key) bool {
	for _, c := range d.keys {
		if c == k {
			return true
		}
	}
	return false
}

// ParseKeyList reads one key per line. Blank lines and text after '#' are ignored.
func ParseKeyList(r io.Reader) ([]Key, error) {
	var keys []Key
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, err := ParseKey(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		keys = append(keys, k)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading key list: %w", err)
	}
	return keys, nil
}

// LoadKeyFile reads a key list file
func LoadKeyFile(path string) ([]Key, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file: %w", err)
	}
	defer file.Close()
	keys, err := ParseKeyList(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return keys, nil
}
