package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/mediagate/models"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func sample() *models.ExtractResult {
	return &models.ExtractResult{
		Platform:  models.PlatformTwitter,
		SourceURL: "https://x.com/a/status/1",
		Formats: []models.MediaFormat{
			{Quality: "720p", Type: models.MediaVideo, URL: "https://video.twimg.com/a.mp4"},
		},
	}
}

func TestKeyIncludesPlatform(t *testing.T) {
	a := Key("https://x.com/a/status/1", models.PlatformTwitter)
	b := Key("https://x.com/a/status/1", models.PlatformInstagram)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Key("https://x.com/a/status/1", models.PlatformTwitter))
	assert.Len(t, a, 64)
}

func TestExpiredEntriesAbsent(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newCache(10, clk.Now)
	key := Key("u", models.PlatformTwitter)

	c.Set(key, sample(), time.Minute)
	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "https://video.twimg.com/a.mp4", got.Formats[0].URL)

	clk.t = clk.t.Add(time.Minute)
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestGetReturnsCopy(t *testing.T) {
	c := newCache(10, time.Now)
	c.Set("k", sample(), time.Minute)

	first, _ := c.Get("k")
	first.Formats[0].URL = "mutated"
	second, _ := c.Get("k")
	assert.Equal(t, "https://video.twimg.com/a.mp4", second.Formats[0].URL)
}

func TestZeroTTLNotStored(t *testing.T) {
	c := newCache(10, time.Now)
	c.Set("k", sample(), 0)
	assert.Equal(t, 0, c.Len())
}

func TestCapacityPrefersExpired(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := newCache(2, clk.Now)
	c.Set("short", sample(), time.Second)
	c.Set("long", sample(), time.Hour)

	clk.t = clk.t.Add(2 * time.Second)
	c.Set("new", sample(), time.Hour)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get("long")
	assert.True(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
}

func TestCloseIdempotent(t *testing.T) {
	c := New(10, time.Millisecond)
	c.Close()
	c.Close()
}
