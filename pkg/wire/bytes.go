package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
)

// ByteArray carries file bytes inside a JSON envelope in the inline transfer
// form: marshaled as an array of byte values. Decoding additionally accepts a
// base64 string for compatibility with encoders that use Go's default []byte
// representation.
type ByteArray []byte

// MarshalJSON encodes the bytes as a JSON array of numbers.
func (b ByteArray) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	// Avoid per-element Marshal calls; the output is just digits and commas.
	out := make([]byte, 0, len(b)*4+2)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		if v >= 100 {
			out = append(out, '0'+v/100)
		}
		if v >= 10 {
			out = append(out, '0'+(v/10)%10)
		}
		out = append(out, '0'+v%10)
	}
	out = append(out, ']')
	return out, nil
}

// UnmarshalJSON decodes either an array of byte values or a base64 string.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("wire: decoding base64 file content: %w", err)
		}
		*b = decoded
		return nil
	}
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return err
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		if n < 0 || n > 255 {
			return fmt.Errorf("wire: byte value %d out of range at index %d", n, i)
		}
		out[i] = byte(n)
	}
	*b = out
	return nil
}

// sortedPaths returns the map keys in lexical order.
func sortedPaths(files map[string][]byte) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
