package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// BundleVersion is the current bundle format version.
const BundleVersion = 1

// bundleMagic is the fixed 3-byte tag opening every bundle.
var bundleMagic = [3]byte{'R', 'B', 'X'}

const bundleHeaderLen = 8 // magic(3) + version(1) + metadata length(4)

// BundleFileMeta describes one file in the bundle metadata block. Order
// matters: contents follow the metadata block in listed order.
type BundleFileMeta struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type bundleMeta struct {
	Files []BundleFileMeta `json:"files"`
}

// EncodeBundle serializes files into the binary bundle form. Iteration order
// over the map is made deterministic by the metadata listing: contents are
// concatenated in the order the metadata block lists them.
func EncodeBundle(files map[string][]byte) ([]byte, error) {
	meta := bundleMeta{Files: make([]BundleFileMeta, 0, len(files))}
	paths := sortedPaths(files)
	for _, p := range paths {
		meta.Files = append(meta.Files, BundleFileMeta{Path: p, Size: int64(len(files[p]))})
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding bundle metadata: %w", err)
	}
	if len(metaJSON) > int(^uint32(0)) {
		return nil, fmt.Errorf("wire: bundle metadata too large")
	}

	var buf bytes.Buffer
	buf.Write(bundleMagic[:])
	buf.WriteByte(BundleVersion)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(metaJSON)))
	buf.Write(lenBuf[:])
	buf.Write(metaJSON)

	for _, p := range paths {
		buf.Write(files[p])
	}
	return buf.Bytes(), nil
}

// DecodeBundle parses a binary bundle back into its files. The full bundle
// must be present; short input is an error.
func DecodeBundle(data []byte) (map[string][]byte, error) {
	if len(data) < bundleHeaderLen {
		return nil, fmt.Errorf("wire: bundle truncated at %d bytes", len(data))
	}
	if !bytes.Equal(data[:3], bundleMagic[:]) {
		return nil, fmt.Errorf("wire: bad bundle magic %q", data[:3])
	}
	if v := data[3]; v != BundleVersion {
		return nil, fmt.Errorf("wire: unsupported bundle version %d", v)
	}

	metaLen := binary.BigEndian.Uint32(data[4:8])
	if int64(bundleHeaderLen)+int64(metaLen) > int64(len(data)) {
		return nil, fmt.Errorf("wire: bundle metadata length %d exceeds input", metaLen)
	}

	var meta bundleMeta
	if err := json.Unmarshal(data[bundleHeaderLen:bundleHeaderLen+int(metaLen)], &meta); err != nil {
		return nil, fmt.Errorf("wire: decoding bundle metadata: %w", err)
	}

	files := make(map[string][]byte, len(meta.Files))
	offset := int64(bundleHeaderLen) + int64(metaLen)
	for _, f := range meta.Files {
		// Subtraction form: offset+f.Size could wrap for huge claimed sizes.
		if f.Size < 0 || f.Size > int64(len(data))-offset {
			return nil, fmt.Errorf("wire: bundle content for %q exceeds input", f.Path)
		}
		content := make([]byte, f.Size)
		copy(content, data[offset:offset+f.Size])
		files[f.Path] = content
		offset += f.Size
	}
	if offset != int64(len(data)) {
		return nil, fmt.Errorf("wire: %d trailing bytes after bundle contents", int64(len(data))-offset)
	}
	return files, nil
}

// BundleSize returns the encoded size of a bundle for the given files
// without building it, so a loadBundle envelope can announce the byte count.
func BundleSize(files map[string][]byte) (int64, error) {
	meta := bundleMeta{Files: make([]BundleFileMeta, 0, len(files))}
	var contentLen int64
	for _, p := range sortedPaths(files) {
		meta.Files = append(meta.Files, BundleFileMeta{Path: p, Size: int64(len(files[p]))})
		contentLen += int64(len(files[p]))
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("wire: encoding bundle metadata: %w", err)
	}
	return int64(bundleHeaderLen) + int64(len(metaJSON)) + contentLen, nil
}
