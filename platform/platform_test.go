package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/use-agent/mediagate/models"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		url  string
		want models.Platform
		ok   bool
	}{
		{"https://www.tiktok.com/@u/video/123", models.PlatformTikTok, true},
		{"https://vm.tiktok.com/ZMabc/", models.PlatformTikTok, true},
		{"https://x.com/user/status/1", models.PlatformTwitter, true},
		{"https://mobile.twitter.com/user/status/1", models.PlatformTwitter, true},
		{"https://www.instagram.com/p/abc/", models.PlatformInstagram, true},
		{"https://fb.watch/xyz/", models.PlatformFacebook, true},
		{"https://youtu.be/dQw4w9WgXcQ", models.PlatformYouTube, true},
		{"https://m.weibo.cn/status/1", models.PlatformWeibo, true},
		{"https://notx.com/user/status/1", "", false},
		{"ftp://x.com/a", "", false},
		{"not a url", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, ok := Detect(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchDomain(t *testing.T) {
	assert.True(t, MatchDomain("scontent.fbcdn.net", "fbcdn.net"))
	assert.True(t, MatchDomain("fbcdn.net", "fbcdn.net"))
	assert.True(t, MatchDomain("FBCDN.NET.", "fbcdn.net"))
	assert.False(t, MatchDomain("evilfbcdn.net", "fbcdn.net"))
	assert.False(t, MatchDomain("fbcdn.net.evil.com", "fbcdn.net"))
}

func TestPlatformForHost(t *testing.T) {
	p, ok := PlatformForHost("scontent-lax3-1.cdninstagram.com", "")
	assert.True(t, ok)
	assert.Equal(t, models.PlatformInstagram, p)

	p, ok = PlatformForHost("scontent.fbcdn.net", models.PlatformInstagram)
	assert.True(t, ok)
	assert.Equal(t, models.PlatformInstagram, p)

	p, ok = PlatformForHost("scontent.fbcdn.net", "")
	assert.True(t, ok)
	assert.Equal(t, models.PlatformFacebook, p)

	_, ok = PlatformForHost("example.com", "")
	assert.False(t, ok)
}

func TestEveryPlatformHasInfoAndCDN(t *testing.T) {
	for _, p := range models.AllPlatforms {
		_, ok := Lookup(p)
		assert.True(t, ok, "missing info for %s", p)
		assert.NotEmpty(t, CDNDomains[p], "missing CDN domains for %s", p)
	}
}
