package cookiepool

import (
	"sort"
	"time"

	"github.com/use-agent/mediagate/models"
)

// rule is one eligibility predicate. A record is selectable only when every
// rule passes.
type rule struct {
	name string
	ok   func(rec *models.CookieRecord, now time.Time) bool
}

var eligibility = []rule{
	{"enabled", func(r *models.CookieRecord, _ time.Time) bool { return r.Enabled }},
	{"not_disabled", func(r *models.CookieRecord, _ time.Time) bool { return r.Status != models.CookieDisabled }},
	{"not_expired", func(r *models.CookieRecord, _ time.Time) bool { return r.Status != models.CookieExpired }},
	{"not_cooling_down", func(r *models.CookieRecord, now time.Time) bool {
		return r.Status != models.CookieCooldown || !now.Before(r.CooldownUntil)
	}},
	{"under_hourly_cap", func(r *models.CookieRecord, now time.Time) bool {
		return r.MaxUsesPerHour <= 0 || !inHour(r, now) || r.HourlyUses < r.MaxUsesPerHour
	}},
}

// eligible reports whether rec may be handed out at now, and the first rule
// that rejected it otherwise.
func eligible(rec *models.CookieRecord, now time.Time) (bool, string) {
	for _, r := range eligibility {
		if !r.ok(rec, now) {
			return false, r.name
		}
	}
	return true, ""
}

func inHour(rec *models.CookieRecord, now time.Time) bool {
	return !rec.HourStartedAt.IsZero() && now.Sub(rec.HourStartedAt) < time.Hour
}

// recentUses is the use count within the current hour window.
func recentUses(rec *models.CookieRecord, now time.Time) int {
	if !inHour(rec, now) {
		return 0
	}
	return rec.HourlyUses
}

// selector returns the best record for one step of the fallback chain.
type selector struct {
	name string
	pick func(recs []*models.CookieRecord, now time.Time) *models.CookieRecord
}

// chain is the ordered fallback for a requested tier. Private requests fall
// back to the public tier; public requests have nowhere to go.
func chain(tier models.CookieTier) []selector {
	s := []selector{{name: "tier:" + string(tier), pick: bestInTier(tier)}}
	if tier == models.TierPrivate {
		s = append(s, selector{name: "fallback:public", pick: bestInTier(models.TierPublic)})
	}
	return s
}

// bestInTier picks the eligible record in tier with the fewest recent uses,
// then the fewest total uses.
func bestInTier(tier models.CookieTier) func([]*models.CookieRecord, time.Time) *models.CookieRecord {
	return func(recs []*models.CookieRecord, now time.Time) *models.CookieRecord {
		var cands []*models.CookieRecord
		for _, r := range recs {
			if r.Tier != tier {
				continue
			}
			if ok, _ := eligible(r, now); ok {
				cands = append(cands, r)
			}
		}
		if len(cands) == 0 {
			return nil
		}
		sort.SliceStable(cands, func(i, j int) bool {
			a, b := cands[i], cands[j]
			if ra, rb := recentUses(a, now), recentUses(b, now); ra != rb {
				return ra < rb
			}
			if a.UseCount != b.UseCount {
				return a.UseCount < b.UseCount
			}
			return a.ID < b.ID
		})
		return cands[0]
	}
}

// pickFrom walks the chain and returns the first hit with the selector name.
func pickFrom(recs []*models.CookieRecord, tier models.CookieTier, now time.Time) (*models.CookieRecord, string) {
	for _, s := range chain(tier) {
		if r := s.pick(recs, now); r != nil {
			return r, s.name
		}
	}
	return nil, ""
}
