package relay

import (
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/idna"

	"github.com/use-agent/mediagate/metrics"
	"github.com/use-agent/mediagate/models"
	"github.com/use-agent/mediagate/platform"
)

// Stable rejection reasons.
const (
	ReasonMissing     = "missing_url"
	ReasonEncoding    = "bad_encoding"
	ReasonMalformed   = "malformed_url"
	ReasonScheme      = "unsupported_scheme"
	ReasonPrivateHost = "private_host"
	ReasonNotAllowed  = "host_not_allowed"
)

// Rejection is a validation failure. It is never retried.
type Rejection struct {
	Reason string
	Host   string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Host != "" {
		return fmt.Sprintf("relay: url rejected (%s): host %q", r.Reason, r.Host)
	}
	return fmt.Sprintf("relay: url rejected (%s)", r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Permanent marks the rejection as non-retryable for the outbound client.
func (r *Rejection) Permanent() bool { return true }

// Target is a validated upstream URL.
type Target struct {
	URL       *url.URL
	Host      string // canonical ASCII hostname
	Platform  models.Platform
	Unwrapped bool // one level of percent-encoding was removed
}

type candidate struct {
	raw       string
	preferred models.Platform
	Target
}

type rule struct {
	name  string
	check func(c *candidate) *Rejection
}

// Validator checks proxy targets against an ordered list of rules. The
// first failing rule rejects the URL.
type Validator struct {
	rules []rule
}

// NewValidator returns the proxy validator. Order matters: the private
// host guard must see the host after decoding, and the allow-list runs
// last.
func NewValidator() *Validator {
	return &Validator{rules: []rule{
		{"present", checkPresent},
		{"decode", checkDecode},
		{"parse", checkParse},
		{"private_host", checkPrivateHost},
		{"allow_list", checkAllowList},
	}}
}

// Rules returns the rule names in evaluation order.
func (v *Validator) Rules() []string {
	names := make([]string, len(v.rules))
	for i, r := range v.rules {
		names[i] = r.name
	}
	return names
}

// Validate runs every rule against raw. preferred disambiguates CDN domains
// shared between platforms.
func (v *Validator) Validate(raw string, preferred models.Platform) (*Target, error) {
	c := &candidate{raw: strings.TrimSpace(raw), preferred: preferred}
	for _, r := range v.rules {
		if rej := r.check(c); rej != nil {
			metrics.ProxyRejections.WithLabelValues(rej.Reason).Inc()
			if rej.Reason != ReasonMissing {
				slog.Warn("relay: target rejected",
					"rule", r.name,
					"reason", rej.Reason,
					"host", rej.Host,
				)
			}
			return nil, rej
		}
	}
	t := c.Target
	return &t, nil
}

func checkPresent(c *candidate) *Rejection {
	if c.raw == "" {
		return &Rejection{Reason: ReasonMissing}
	}
	return nil
}

// checkDecode removes at most one extra level of percent-encoding. The
// decoded form replaces the raw one whenever decoding changes the scheme or
// authority; encoding confined to the path or query is left alone. A
// malformed escape rejects the URL.
func checkDecode(c *candidate) *Rejection {
	if !strings.Contains(c.raw, "%") {
		return nil
	}
	dec, err := url.PathUnescape(c.raw)
	if err != nil {
		return &Rejection{Reason: ReasonEncoding, Err: err}
	}
	if dec == c.raw {
		return nil
	}
	orig, err1 := url.Parse(c.raw)
	next, err2 := url.Parse(dec)
	if err1 == nil && err2 == nil && orig.Host != "" &&
		strings.EqualFold(orig.Scheme, next.Scheme) &&
		strings.EqualFold(orig.Host, next.Host) {
		return nil
	}
	c.raw = dec
	c.Unwrapped = true
	return nil
}

func checkParse(c *candidate) *Rejection {
	u, err := url.Parse(c.raw)
	if err != nil {
		return &Rejection{Reason: ReasonMalformed, Err: err}
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return &Rejection{Reason: ReasonScheme, Host: u.Hostname()}
	}
	if u.Hostname() == "" || u.User != nil {
		return &Rejection{Reason: ReasonMalformed, Host: u.Hostname()}
	}
	c.URL = u
	return nil
}

var (
	cgnat = netip.MustParsePrefix("100.64.0.0/10")
	// Inet_aton shorthand such as 2130706433, 0x7f.1 or 0177.0.0.1.
	numericHost = regexp.MustCompile(`^(0x[0-9a-f]*|[0-9]+)(\.(0x[0-9a-f]*|[0-9]+)){0,3}$`)
)

func checkPrivateHost(c *candidate) *Rejection {
	host := strings.TrimSuffix(strings.ToLower(c.URL.Hostname()), ".")
	if addr, err := netip.ParseAddr(host); err == nil {
		c.Host = addr.String()
		if isPrivateAddr(addr) {
			return &Rejection{Reason: ReasonPrivateHost, Host: c.Host}
		}
		return nil
	}
	ascii := host
	if !isASCII(host) {
		var err error
		ascii, err = idna.Lookup.ToASCII(host)
		if err != nil {
			return &Rejection{Reason: ReasonMalformed, Host: host, Err: err}
		}
	}
	c.Host = ascii
	if ascii == "localhost" || strings.HasSuffix(ascii, ".localhost") || numericHost.MatchString(ascii) {
		return &Rejection{Reason: ReasonPrivateHost, Host: ascii}
	}
	return nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// isPrivateAddr covers loopback, RFC 1918, link-local, unique local,
// carrier-grade NAT, unspecified and multicast, including IPv4-mapped
// IPv6 forms.
func isPrivateAddr(a netip.Addr) bool {
	a = a.Unmap()
	return a.IsLoopback() ||
		a.IsPrivate() ||
		a.IsLinkLocalUnicast() ||
		a.IsLinkLocalMulticast() ||
		a.IsInterfaceLocalMulticast() ||
		a.IsMulticast() ||
		a.IsUnspecified() ||
		cgnat.Contains(a)
}

func checkAllowList(c *candidate) *Rejection {
	p, ok := platform.PlatformForHost(c.Host, c.preferred)
	if !ok {
		return &Rejection{Reason: ReasonNotAllowed, Host: c.Host}
	}
	c.Platform = p
	return nil
}
