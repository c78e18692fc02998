package media

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	maxFilenameLength = 120
	defaultName       = "media"
)

var (
	nonWord     = regexp.MustCompile(`[^\w\-. ]+`)
	spaces      = regexp.MustCompile(`\s+`)
	unsafeChars = regexp.MustCompile(`[\\/:*?"<>|\x00-\x1f\x7f]+`)
	extPattern  = regexp.MustCompile(`^\.[A-Za-z0-9]{1,5}$`)
)

// ExtFromMime returns an extension without the dot for a MIME type, or ""
// when unknown.
func ExtFromMime(mime string) string {
	base := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	switch base {
	case "":
		return ""
	case "video/mp4":
		return "mp4"
	case "audio/mp4", "audio/x-m4a":
		return "m4a"
	case "audio/mpeg":
		return "mp3"
	case "image/jpeg":
		return "jpg"
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl":
		return "m3u8"
	case "video/quicktime":
		return "mov"
	}
	if _, sub, ok := strings.Cut(base, "/"); ok && sub != "" && !strings.ContainsAny(sub, "+.-") {
		return sub
	}
	return ""
}

// SafeFilename strips non-word characters from name and appends an
// extension derived from mime when name has none. The result is ASCII.
func SafeFilename(name, mime string) string {
	name = nonWord.ReplaceAllString(name, "")
	name = spaces.ReplaceAllString(strings.TrimSpace(name), "_")
	name = strings.Trim(name, "._-")
	var ext string
	if e := path.Ext(name); extPattern.MatchString(e) {
		ext = strings.ToLower(e[1:])
		name = strings.TrimSuffix(name, e)
	} else {
		ext = ExtFromMime(mime)
	}
	if len(name) > maxFilenameLength {
		name = name[:maxFilenameLength]
	}
	if name == "" {
		name = defaultName
	}
	if ext == "" {
		return name
	}
	return name + "." + ext
}

// ContentDisposition builds a Content-Disposition value with an ASCII
// fallback filename and an RFC 5987 UTF-8 filename*.
func ContentDisposition(inline bool, name, mime string) string {
	disp := "attachment"
	if inline {
		disp = "inline"
	}
	fallback := SafeFilename(name, mime)
	utf := strings.TrimSpace(unsafeChars.ReplaceAllString(name, ""))
	if utf == "" {
		utf = fallback
	} else if !extPattern.MatchString(path.Ext(utf)) {
		if ext := ExtFromMime(mime); ext != "" {
			utf += "." + ext
		}
	}
	enc := strings.ReplaceAll(url.QueryEscape(utf), "+", "%20")
	return fmt.Sprintf(`%s; filename="%s"; filename*=UTF-8''%s`, disp, fallback, enc)
}
