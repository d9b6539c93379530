package relay

import (
	"fmt"
	"path"
	"strings"
)

// inlineTypes are served with their own content type. Anything else is sent
// as an octet-stream attachment.
var inlineTypes = map[string]string{
	// audio
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	// video
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	// images
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	// docs
	".pdf": "application/pdf",
}

// Header describes the response headers for a relayed file.
type Header struct {
	ContentType string
	// Disposition is empty for inline types.
	Disposition string
}

// HeaderFor picks the headers for remotePath from its lowercase extension.
func HeaderFor(remotePath string) Header {
	base := path.Base(remotePath)
	if ct, ok := inlineTypes[strings.ToLower(path.Ext(base))]; ok {
		return Header{ContentType: ct}
	}
	return Header{
		ContentType: "application/octet-stream",
		Disposition: fmt.Sprintf("attachment; filename=%q", base),
	}
}

// IsImage reports whether remotePath has an image content type.
func IsImage(remotePath string) bool {
	return strings.HasPrefix(HeaderFor(remotePath).ContentType, "image/")
}
