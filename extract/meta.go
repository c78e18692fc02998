package extract

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/mediagate/models"
)

// MetaExtractor reads the Open Graph and Twitter card tags and inline
// <video>/<audio> elements that most post pages carry for link previews.
// Images are reported as media only when the page has no video or audio.
type MetaExtractor struct{}

type metaTag struct {
	key     string
	content string
}

func (MetaExtractor) Extract(_ context.Context, page *Page) (*models.ExtractResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}

	var tags []metaTag
	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		key, _ := s.Attr("property")
		if key == "" {
			key, _ = s.Attr("name")
		}
		content, _ := s.Attr("content")
		key = strings.ToLower(strings.TrimSpace(key))
		content = strings.TrimSpace(content)
		if key != "" && content != "" {
			tags = append(tags, metaTag{key: key, content: content})
		}
	})

	res := &models.ExtractResult{
		Platform: page.Platform,
		Title:    firstMeta(tags, "og:title", "twitter:title"),
		Author:   firstMeta(tags, "author", "article:author", "twitter:creator"),
	}
	if res.Title == "" {
		res.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}

	var images []string
	for _, t := range tags {
		if t.key == "og:image" || t.key == "og:image:url" || t.key == "og:image:secure_url" || t.key == "twitter:image" {
			images = append(images, t.content)
		}
	}
	if len(images) > 0 {
		res.Thumbnail = images[0]
	}

	res.Formats = append(res.Formats, ogVideos(tags)...)
	if stream := firstMeta(tags, "twitter:player:stream"); stream != "" {
		res.Formats = append(res.Formats, models.MediaFormat{
			Quality:  heightQuality(firstMeta(tags, "twitter:player:height")),
			URL:      stream,
			MimeType: firstMeta(tags, "twitter:player:stream:content_type"),
		})
	}
	if audio := firstMeta(tags, "og:audio:secure_url", "og:audio:url", "og:audio"); audio != "" {
		res.Formats = append(res.Formats, models.MediaFormat{
			Quality:  "audio",
			Type:     models.MediaAudio,
			URL:      audio,
			MimeType: firstMeta(tags, "og:audio:type"),
		})
	}

	doc.Find("video, audio").Each(func(_ int, s *goquery.Selection) {
		kind := models.MediaVideo
		if goquery.NodeName(s) == "audio" {
			kind = models.MediaAudio
		}
		if src, ok := s.Attr("src"); ok && src != "" {
			res.Formats = append(res.Formats, models.MediaFormat{Type: kind, URL: src})
		}
		s.Find("source[src]").Each(func(_ int, src *goquery.Selection) {
			u, _ := src.Attr("src")
			mime, _ := src.Attr("type")
			res.Formats = append(res.Formats, models.MediaFormat{Type: kind, URL: u, MimeType: mime})
		})
	})

	if len(res.Formats) == 0 {
		seen := make(map[string]bool, len(images))
		for _, img := range images {
			if seen[img] {
				continue
			}
			seen[img] = true
			res.Formats = append(res.Formats, models.MediaFormat{
				Quality: "original",
				Type:    models.MediaImage,
				URL:     img,
				ItemID:  strconv.Itoa(len(seen)),
			})
		}
	}
	return res, nil
}

// ogVideos groups og:video tags with the structured properties that follow
// them, as the Open Graph protocol lays out arrays.
func ogVideos(tags []metaTag) []models.MediaFormat {
	var (
		out []models.MediaFormat
		cur *models.MediaFormat
	)
	for _, t := range tags {
		switch t.key {
		case "og:video", "og:video:url":
			if cur != nil && cur.URL != "" && cur.URL != t.content {
				out = append(out, *cur)
				cur = nil
			}
			if cur == nil {
				cur = &models.MediaFormat{Type: models.MediaVideo}
			}
			if cur.URL == "" {
				cur.URL = t.content
			}
		case "og:video:secure_url":
			if cur == nil {
				cur = &models.MediaFormat{Type: models.MediaVideo}
			}
			cur.URL = t.content
		case "og:video:type":
			if cur != nil {
				cur.MimeType = t.content
			}
		case "og:video:height":
			if cur != nil {
				cur.Quality = heightQuality(t.content)
			}
		}
	}
	if cur != nil && cur.URL != "" {
		out = append(out, *cur)
	}
	return out
}

func heightQuality(h string) string {
	if n, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && n > 0 {
		return strconv.Itoa(n) + "p"
	}
	return ""
}

func firstMeta(tags []metaTag, keys ...string) string {
	for _, k := range keys {
		for _, t := range tags {
			if t.key == k {
				return t.content
			}
		}
	}
	return ""
}
