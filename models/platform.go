package models

// Platform identifies a supported social platform.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformWeibo     Platform = "weibo"
)

// ScopeAll is the BrowserProfile scope that applies to every platform.
const ScopeAll = "all"

// AllPlatforms lists every supported platform in display order.
var AllPlatforms = []Platform{
	PlatformFacebook,
	PlatformInstagram,
	PlatformTwitter,
	PlatformTikTok,
	PlatformYouTube,
	PlatformWeibo,
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	for _, known := range AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}
