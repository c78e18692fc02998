package media

import (
	"errors"
	"html"
	"net/url"
	"sort"
	"strings"
)

var jsonEscapes = strings.NewReplacer(
	`\/`, `/`,
	`\u0026`, `&`,
	`\u003d`, `=`,
	`\u002F`, `/`,
	`\u002f`, `/`,
	`\u003D`, `=`,
)

// DecodeURL undoes the encodings URLs pick up inside HTML attributes and
// embedded JSON: entities, escaped slashes and unicode escapes, and one
// level of percent-wrapping of a whole absolute URL.
func DecodeURL(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = jsonEscapes.Replace(s)
	s = html.UnescapeString(s)
	if !strings.Contains(s, "://") && strings.Contains(strings.ToLower(s), "%3a%2f%2f") {
		if dec, err := url.QueryUnescape(s); err == nil {
			s = dec
		}
	}
	return s
}

// ValidateMediaURL reports whether s is an absolute http(s) URL with a host.
func ValidateMediaURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Hostname() != ""
}

// ResolveURL resolves ref against base. Protocol-relative references take
// https.
func ResolveURL(base, ref string) (string, bool) {
	if strings.HasPrefix(ref, "//") {
		ref = "https:" + ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if r.IsAbs() {
		return r.String(), true
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return "", false
	}
	return b.ResolveReference(r).String(), true
}

// trackingParams are query keys stripped by NormalizeSocialURL.
var trackingParams = map[string]bool{
	"fbclid": true, "gclid": true, "igshid": true, "igsh": true,
	"si": true, "feature": true, "ref": true, "ref_src": true, "ref_url": true,
	"s": true, "_r": true, "_t": true, "is_from_webapp": true,
	"sender_device": true, "sender_web_id": true, "mibextid": true,
	"rdid": true, "share_url": true, "app": true,
}

// ErrInvalidURL is returned for inputs that are not absolute http(s) URLs.
var ErrInvalidURL = errors.New("media: invalid url")

// NormalizeSocialURL returns the canonical form of a social post URL used as
// a cache and de-duplication key: https scheme, lower-case host without
// www/m/mobile prefixes, no fragment, no tracking parameters, sorted query
// and no trailing slash.
func NormalizeSocialURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", ErrInvalidURL
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	for _, p := range []string{"www.", "m.", "mobile."} {
		if strings.HasPrefix(host, p) && strings.Count(host, ".") > 1 {
			host = strings.TrimPrefix(host, p)
			break
		}
	}
	if port := u.Port(); port != "" && port != "443" && port != "80" {
		host += ":" + port
	}

	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		lk := strings.ToLower(k)
		if trackingParams[lk] || strings.HasPrefix(lk, "utm_") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		vs := q[k]
		sort.Strings(vs)
		for j, v := range vs {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}

	p := strings.TrimRight(u.EscapedPath(), "/")
	out := "https://" + host + p
	if b.Len() > 0 {
		out += "?" + b.String()
	}
	return out, nil
}
