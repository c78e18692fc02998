package models

// MediaType classifies a MediaFormat.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaImage MediaType = "image"
)

// MediaFormat is one concrete downloadable variant of an extracted post.
type MediaFormat struct {
	// Quality is a free-form label such as "720p", "HD" or "original".
	Quality string    `json:"quality"`
	Type    MediaType `json:"type"`
	URL     string    `json:"url"`

	// Size is the byte size when the upstream reported it.
	Size int64 `json:"size,omitempty"`

	// ItemID groups formats that belong to the same item of a carousel or
	// multi-item post.
	ItemID string `json:"itemId,omitempty"`

	IsHLS    bool   `json:"isHLS,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ExtractResult is what a platform extractor returns for one post.
type ExtractResult struct {
	Platform  Platform      `json:"platform"`
	SourceURL string        `json:"sourceUrl"`
	Title     string        `json:"title,omitempty"`
	Author    string        `json:"author,omitempty"`
	Thumbnail string        `json:"thumbnail,omitempty"`
	Formats   []MediaFormat `json:"formats"`

	// UsedCookie reports whether an authenticated cookie was needed.
	UsedCookie bool `json:"usedCookie"`

	// ResponseTime is the end-to-end extraction time in milliseconds.
	ResponseTime int64 `json:"responseTime"`
}
