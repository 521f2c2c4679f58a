// Package fileid provides deterministic source IDs and change stamps for transcript files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"path/filepath"
)

const prefix = "src:"

// SourceID returns a stable source ID for the given absolute path.
// Same path always yields the same ID.
func SourceID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// Stamp identifies one version of a file's contents by modification time and size.
type Stamp struct {
	ModTime int64 // unix nanoseconds
	Size    int64
}

// StampOf returns the stamp of a stat result.
func StampOf(info fs.FileInfo) Stamp {
	return Stamp{ModTime: info.ModTime().UnixNano(), Size: info.Size()}
}

// Changed reports whether s differs from a previously recorded stamp.
func (s Stamp) Changed(prev Stamp) bool {
	return s != prev
}
