package identity

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/use-agent/mediagate/models"
)

var (
	reChromeVersion = regexp.MustCompile(`Chrome/(\d+)`)
	reEdgeVersion   = regexp.MustCompile(`Edg/(\d+)`)
)

// Headers builds the browser-like request headers for profile.
// Chromium profiles also carry Sec-Ch-Ua client hints, derived from the
// user agent when the profile does not store them.
func Headers(bp models.BrowserProfile) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", bp.UserAgent)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	lang := bp.AcceptLanguage
	if lang == "" {
		lang = "en-US,en;q=0.9"
	}
	h.Set("Accept-Language", lang)
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
	h.Set("Upgrade-Insecure-Requests", "1")

	if bp.IsChromium {
		hints := bp.ClientHints
		if hints == "" {
			hints = DeriveClientHints(bp.UserAgent)
		}
		if hints != "" {
			h.Set("Sec-Ch-Ua", hints)
		}
		mobile := bp.ClientHintsMobile
		if mobile == "" {
			mobile = "?0"
			if strings.Contains(bp.UserAgent, "Mobile") {
				mobile = "?1"
			}
		}
		h.Set("Sec-Ch-Ua-Mobile", mobile)
		plat := bp.ClientHintsPlatform
		if plat == "" {
			plat = fmt.Sprintf("%q", uaPlatform(bp.UserAgent))
		}
		h.Set("Sec-Ch-Ua-Platform", plat)
	}
	return h
}

// MediaHeaders builds headers for fetching binary media from a CDN: the
// identity of bp, a permissive Accept, and no navigation hints.
func MediaHeaders(bp models.BrowserProfile) http.Header {
	h := Headers(bp)
	h.Set("Accept", "*/*")
	h.Set("Sec-Fetch-Dest", "video")
	h.Set("Sec-Fetch-Mode", "no-cors")
	h.Set("Sec-Fetch-Site", "cross-site")
	h.Del("Sec-Fetch-User")
	h.Del("Upgrade-Insecure-Requests")
	return h
}

// DeriveClientHints builds a Sec-Ch-Ua value from a Chromium user agent.
// It returns "" when the UA carries no Chrome version.
func DeriveClientHints(ua string) string {
	m := reChromeVersion.FindStringSubmatch(ua)
	if m == nil {
		return ""
	}
	major := m[1]
	if e := reEdgeVersion.FindStringSubmatch(ua); e != nil {
		return fmt.Sprintf(`"Microsoft Edge";v="%s", "Chromium";v="%s", "Not_A Brand";v="24"`, e[1], major)
	}
	return fmt.Sprintf(`"Google Chrome";v="%s", "Chromium";v="%s", "Not_A Brand";v="24"`, major, major)
}

func uaPlatform(ua string) string {
	switch {
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Mac OS X"):
		return "macOS"
	case strings.Contains(ua, "CrOS"):
		return "Chrome OS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}
