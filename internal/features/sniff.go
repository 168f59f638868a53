package features

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Content categories reported alongside a scan.
const (
	CategoryExecutable = "executable"
	CategoryArchive    = "archive"
	CategoryDocument   = "document"
	CategoryImage      = "image"
	CategoryMedia      = "media"
	CategoryText       = "text"
	CategoryOther      = "other"
)

// ContentType is the sniffed type of a file's leading bytes.
type ContentType struct {
	MIME      string
	Extension string
	Category  string
}

// Sniff detects the content type of head, normally the first read chunk.
// Empty input has no content type.
func Sniff(head []byte) ContentType {
	if len(head) == 0 {
		return ContentType{Category: CategoryOther}
	}
	m := mimetype.Detect(head)
	mime := m.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return ContentType{
		MIME:      mime,
		Extension: m.Extension(),
		Category:  categorize(mime),
	}
}

func categorize(mime string) string {
	switch {
	case strings.Contains(mime, "executable"),
		strings.Contains(mime, "sharedlib"),
		mime == "application/x-dosexec",
		mime == "application/x-mach-binary",
		mime == "application/x-elf":
		return CategoryExecutable
	case strings.HasPrefix(mime, "image/"):
		return CategoryImage
	case strings.HasPrefix(mime, "video/"), strings.HasPrefix(mime, "audio/"):
		return CategoryMedia
	case mime == "application/pdf",
		strings.Contains(mime, "document"),
		strings.Contains(mime, "spreadsheet"),
		strings.Contains(mime, "presentation"):
		return CategoryDocument
	case mime == "application/zip",
		mime == "application/x-tar",
		mime == "application/gzip",
		mime == "application/x-rar-compressed",
		mime == "application/x-7z-compressed":
		return CategoryArchive
	case strings.HasPrefix(mime, "text/"):
		return CategoryText
	default:
		return CategoryOther
	}
}
