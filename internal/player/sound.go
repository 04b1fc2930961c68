package player

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
	"github.com/rotisserie/eris"
)

// ErrUnsupportedFormat is returned for files no decoder is registered for.
var ErrUnsupportedFormat = eris.New("unsupported audio format")

// SupportedExtension reports whether files with ext can be decoded.
func SupportedExtension(ext string) bool {
	switch strings.ToLower(ext) {
	case ".mp3", ".wav":
		return true
	default:
		return false
	}
}

// Decode opens an audio file for streaming. The caller closes the streamer.
func Decode(path string) (beep.StreamSeekCloser, beep.Format, error) {
	if !SupportedExtension(filepath.Ext(path)) {
		return nil, beep.Format{}, eris.Wrapf(ErrUnsupportedFormat, "%s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, eris.Wrapf(err, "open %s", path)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		streamer, format, err = mp3.Decode(f)
	}
	if err != nil {
		_ = f.Close()
		return nil, beep.Format{}, eris.Wrapf(err, "decode %s", path)
	}
	return streamer, format, nil
}

// Duration returns the playing time of an audio file.
func Duration(path string) (time.Duration, error) {
	streamer, format, err := Decode(path)
	if err != nil {
		return 0, err
	}
	defer streamer.Close()
	return format.SampleRate.D(streamer.Len()), nil
}

// FileURI turns an absolute path into a file:// uri.
func FileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// PathFromURI is the inverse of FileURI. Plain paths are returned unchanged.
func PathFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, "file://") {
		return uri, nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", eris.Wrapf(err, "parse %s", uri)
	}
	return u.Path, nil
}
