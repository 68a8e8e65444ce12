package storage

import (
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultEncoding is reported for foreign files whose type is unknown or
// when mime inference is disabled.
const DefaultEncoding = "application/octet-stream"

// inferEncoding guesses the encoding of a foreign file.
//
// The extension table is consulted first. When it has no answer the first
// bytes of the file are sniffed. With keepMimeTypes off every foreign file
// is reported as raw bytes.
func inferEncoding(managedPath, physicalPath string, keepMimeTypes bool) string {
	if !keepMimeTypes {
		return DefaultEncoding
	}

	if ext := path.Ext(managedPath); ext != "" {
		if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
			return t
		}
	}

	m, err := mimetype.DetectFile(physicalPath)
	if err != nil || m == nil {
		return DefaultEncoding
	}
	return m.String()
}
