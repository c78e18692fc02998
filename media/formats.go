// Package media cleans up what extractors return: candidate URLs are
// decoded, resolved and validated, formats are classified and
// deduplicated, and filenames are made safe for Content-Disposition.
package media

import (
	"net/url"
	"path"
	"strings"

	"github.com/use-agent/mediagate/models"
)

var extTypes = map[string]models.MediaType{
	".mp4": models.MediaVideo, ".m4v": models.MediaVideo, ".webm": models.MediaVideo,
	".mov": models.MediaVideo, ".m3u8": models.MediaVideo, ".ts": models.MediaVideo,
	".flv": models.MediaVideo,
	".mp3": models.MediaAudio, ".m4a": models.MediaAudio, ".aac": models.MediaAudio,
	".ogg": models.MediaAudio, ".opus": models.MediaAudio, ".wav": models.MediaAudio,
	".jpg": models.MediaImage, ".jpeg": models.MediaImage, ".png": models.MediaImage,
	".webp": models.MediaImage, ".gif": models.MediaImage, ".heic": models.MediaImage,
	".avif": models.MediaImage,
}

// ClassifyType infers the media type from a MIME type, falling back to the
// URL path extension and finally to video.
func ClassifyType(rawURL, mime string) models.MediaType {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "video/"), strings.Contains(mime, "mpegurl"):
		return models.MediaVideo
	case strings.HasPrefix(mime, "audio/"):
		return models.MediaAudio
	case strings.HasPrefix(mime, "image/"):
		return models.MediaImage
	}
	if t, ok := extTypes[urlExt(rawURL)]; ok {
		return t
	}
	return models.MediaVideo
}

// IsHLS reports whether the URL or MIME type denotes an HLS playlist.
func IsHLS(rawURL, mime string) bool {
	if strings.Contains(strings.ToLower(mime), "mpegurl") {
		return true
	}
	return urlExt(rawURL) == ".m3u8"
}

func urlExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}

// signature identifies a format for deduplication. ItemID is deliberately
// not part of it.
func signature(f models.MediaFormat) string {
	return strings.ToLower(strings.TrimSpace(f.Quality)) + "\x00" + string(f.Type) + "\x00" + f.URL
}

// DedupeFormats drops formats whose (quality, type, url) signature was
// already seen. The first occurrence wins and order is preserved.
func DedupeFormats(in []models.MediaFormat) []models.MediaFormat {
	seen := make(map[string]struct{}, len(in))
	out := make([]models.MediaFormat, 0, len(in))
	for _, f := range in {
		k := signature(f)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	return out
}

// NormalizeFormats decodes and resolves each format URL against base,
// discards formats without a usable URL, fills Type and IsHLS, and
// deduplicates.
func NormalizeFormats(base string, in []models.MediaFormat) []models.MediaFormat {
	out := make([]models.MediaFormat, 0, len(in))
	for _, f := range in {
		raw := DecodeURL(f.URL)
		if raw == "" {
			continue
		}
		abs, ok := ResolveURL(base, raw)
		if !ok || !ValidateMediaURL(abs) {
			continue
		}
		f.URL = abs
		if f.Type == "" {
			f.Type = ClassifyType(abs, f.MimeType)
		}
		if !f.IsHLS {
			f.IsHLS = IsHLS(abs, f.MimeType)
		}
		f.Quality = strings.TrimSpace(f.Quality)
		if f.Quality == "" {
			f.Quality = "default"
		}
		out = append(out, f)
	}
	return DedupeFormats(out)
}
