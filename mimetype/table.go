// Package mimetype provides the built-in file-extension-to-content-type
// fallback table named in spec.md §4.10, consulted when the multipart
// builder needs a Content-Type for a file part and no caller-supplied
// override exists.
package mimetype

import "strings"

// DefaultContentType is returned for an extension with no table entry.
const DefaultContentType = "application/octet-stream"

var byExtension = map[string]string{
	// images
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".heic": "image/heic",

	// docs
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",

	// text
	".txt":  "text/plain",
	".csv":  "text/csv",
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".xml":  "application/xml",
	".md":   "text/markdown",

	// audio
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".ogg": "audio/ogg",
	".m4a": "audio/mp4",

	// video
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",

	// archives
	".zip": "application/zip",
	".tar": "application/x-tar",
	".gz":  "application/gzip",
	".7z":  "application/x-7z-compressed",
	".rar": "application/vnd.rar",
}

// ForFilename infers a content type from filename's extension, falling
// back to DefaultContentType when the extension is unknown (spec.md
// §4.10).
func ForFilename(filename string) string {
	ext := extensionOf(filename)
	if ct, ok := byExtension[ext]; ok {
		return ct
	}
	return DefaultContentType
}

func extensionOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx:])
}
