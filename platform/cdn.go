package platform

import "github.com/use-agent/mediagate/models"

// CDNDomains is the allow-list of upstream media hosts keyed by platform.
// It is the single trust boundary of the media proxy: adding a platform
// requires adding its CDN domains here.
var CDNDomains = map[models.Platform][]string{
	models.PlatformFacebook: {
		"fbcdn.net",
		"fbsbx.com",
	},
	models.PlatformInstagram: {
		"cdninstagram.com",
		"fbcdn.net",
	},
	models.PlatformTwitter: {
		"twimg.com",
		"video.twimg.com",
	},
	models.PlatformTikTok: {
		"tiktokcdn.com",
		"tiktokcdn-us.com",
		"tiktokcdn-eu.com",
		"tiktokv.com",
		"tiktokv.us",
		"ttwstatic.com",
		"muscdn.com",
		"byteoversea.com",
		"ibytedtos.com",
	},
	models.PlatformYouTube: {
		"googlevideo.com",
		"ytimg.com",
		"ggpht.com",
	},
	models.PlatformWeibo: {
		"sinaimg.cn",
		"weibocdn.com",
		"video.weibo.com",
	},
}

// PlatformForHost returns the platform whose CDN allow-list contains host.
// When a domain is shared (fbcdn.net) the preferred platform wins if it
// matches.
func PlatformForHost(host string, preferred models.Platform) (models.Platform, bool) {
	if preferred != "" {
		for _, d := range CDNDomains[preferred] {
			if MatchDomain(host, d) {
				return preferred, true
			}
		}
	}
	for _, p := range models.AllPlatforms {
		for _, d := range CDNDomains[p] {
			if MatchDomain(host, d) {
				return p, true
			}
		}
	}
	return "", false
}
