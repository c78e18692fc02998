// Package platform detects which social platform a URL belongs to and holds
// the CDN allow-list that the media proxy trusts.
package platform

import (
	"net/url"
	"strings"

	"github.com/use-agent/mediagate/models"
)

// Info describes how outbound traffic to a platform must look.
type Info struct {
	Name string

	// ChromiumOnly is set for platforms that fingerprint on Sec-Ch-Ua and
	// reject non-Chromium user agents.
	ChromiumOnly bool

	// CookieCapable platforms may gate content behind login.
	CookieCapable bool

	// CDNNeedsCookie is set when media CDNs also require the session cookie.
	CDNNeedsCookie bool

	Referer string
	Origin  string
}

var infos = map[models.Platform]Info{
	models.PlatformFacebook: {
		Name: "Facebook", ChromiumOnly: true, CookieCapable: true,
		Referer: "https://www.facebook.com/", Origin: "https://www.facebook.com",
	},
	models.PlatformInstagram: {
		Name: "Instagram", ChromiumOnly: true, CookieCapable: true,
		Referer: "https://www.instagram.com/", Origin: "https://www.instagram.com",
	},
	models.PlatformTwitter: {
		Name: "Twitter/X", CookieCapable: true,
		Referer: "https://x.com/", Origin: "https://x.com",
	},
	models.PlatformTikTok: {
		Name:    "TikTok",
		Referer: "https://www.tiktok.com/", Origin: "https://www.tiktok.com",
	},
	models.PlatformYouTube: {
		Name: "YouTube", ChromiumOnly: true,
		Referer: "https://www.youtube.com/", Origin: "https://www.youtube.com",
	},
	models.PlatformWeibo: {
		Name: "Weibo", CookieCapable: true, CDNNeedsCookie: true,
		Referer: "https://weibo.com/", Origin: "https://weibo.com",
	},
}

// siteDomains maps the public site hosts to their platform.
var siteDomains = map[string]models.Platform{
	"facebook.com":  models.PlatformFacebook,
	"fb.watch":      models.PlatformFacebook,
	"fb.com":        models.PlatformFacebook,
	"instagram.com": models.PlatformInstagram,
	"instagr.am":    models.PlatformInstagram,
	"twitter.com":   models.PlatformTwitter,
	"x.com":         models.PlatformTwitter,
	"tiktok.com":    models.PlatformTikTok,
	"youtube.com":   models.PlatformYouTube,
	"youtu.be":      models.PlatformYouTube,
	"weibo.com":     models.PlatformWeibo,
	"weibo.cn":      models.PlatformWeibo,
}

// Lookup returns the Info for p.
func Lookup(p models.Platform) (Info, bool) {
	info, ok := infos[p]
	return info, ok
}

// Detect returns the platform of a social media post URL.
func Detect(rawURL string) (models.Platform, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	for domain, p := range siteDomains {
		if MatchDomain(host, domain) {
			return p, true
		}
	}
	return "", false
}

// MatchDomain reports whether host equals domain or is a subdomain of it.
// Matching is on label boundaries, so "evilfbcdn.net" does not match
// "fbcdn.net".
func MatchDomain(host, domain string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
