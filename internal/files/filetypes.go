package files

import (
	"io"
	"mime"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultContentType is used when detection fails.
const DefaultContentType = "application/octet-stream"

// DetectContentType sniffs the content type from the head of f and rewinds it.
func DetectContentType(f io.ReadSeeker) string {
	mtype, err := mimetype.DetectReader(f)
	if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil || err != nil {
		return DefaultContentType
	}
	return mtype.String()
}

// ContentDisposition builds an attachment header value for name, quoting or
// RFC 2231 encoding it as needed.
func ContentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
