package mimetype

import "testing"

func TestForFilenameKnownExtensions(t *testing.T) {
	cases := map[string]string{
		"photo.PNG":     "image/png",
		"report.pdf":    "application/pdf",
		"notes.txt":     "text/plain",
		"song.mp3":      "audio/mpeg",
		"clip.mp4":      "video/mp4",
		"archive.zip":   "application/zip",
		"data.json":     "application/json",
		"archive.tar.gz": "application/gzip",
	}
	for name, want := range cases {
		if got := ForFilename(name); got != want {
			t.Errorf("ForFilename(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestForFilenameUnknownFallsBack(t *testing.T) {
	if got := ForFilename("binary.xyz"); got != DefaultContentType {
		t.Errorf("ForFilename = %q, want %q", got, DefaultContentType)
	}
	if got := ForFilename("noextension"); got != DefaultContentType {
		t.Errorf("ForFilename = %q, want %q", got, DefaultContentType)
	}
}
