package indexer

import "strings"

const utf8BOM = "\ufeff"

// Normalize prepares raw transcript text for turn parsing: a leading byte order
// mark is dropped and CRLF / lone CR line endings become LF, so that blank-line
// section breaks are detected regardless of the exporting platform.
func Normalize(raw string) string {
	raw = strings.TrimPrefix(raw, utf8BOM)
	if !strings.Contains(raw, "\r") {
		return raw
	}
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	return strings.ReplaceAll(raw, "\r", "\n")
}
