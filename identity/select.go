package identity

import "github.com/use-agent/mediagate/models"

// filterCandidates narrows profiles to the enabled ones scoped to platform,
// falling back to "all"-scoped profiles when none are platform-specific.
// With chromiumOnly set, non-Chromium profiles are removed; if that empties
// the platform-scoped set, the "all"-scoped Chromium profiles are tried.
func filterCandidates(profiles []models.BrowserProfile, platform models.Platform, chromiumOnly bool) []models.BrowserProfile {
	var scoped, global []models.BrowserProfile
	for _, bp := range profiles {
		if !bp.Enabled || bp.Priority < 0 {
			continue
		}
		switch {
		case platform != "" && bp.AppliesTo(platform):
			scoped = append(scoped, bp)
		case bp.PlatformScope == models.ScopeAll || bp.PlatformScope == "":
			global = append(global, bp)
		}
	}

	tiers := [][]models.BrowserProfile{scoped, global}
	for _, tier := range tiers {
		if !chromiumOnly {
			if len(tier) > 0 {
				return tier
			}
			continue
		}
		if chromium := onlyChromium(tier); len(chromium) > 0 {
			return chromium
		}
	}
	return nil
}

func onlyChromium(profiles []models.BrowserProfile) []models.BrowserProfile {
	var out []models.BrowserProfile
	for _, bp := range profiles {
		if bp.IsChromium {
			out = append(out, bp)
		}
	}
	return out
}

// pickWeighted chooses one candidate with probability proportional to its
// Priority. The candidate whose ID equals excludeID is skipped unless it is
// the only one. r must be in [0, 1).
func pickWeighted(candidates []models.BrowserProfile, excludeID string, r float64) models.BrowserProfile {
	if len(candidates) == 0 {
		return models.BrowserProfile{}
	}
	pool := candidates
	if len(candidates) > 1 && excludeID != "" {
		pool = make([]models.BrowserProfile, 0, len(candidates))
		for _, c := range candidates {
			if c.ID != excludeID {
				pool = append(pool, c)
			}
		}
		if len(pool) == 0 {
			pool = candidates
		}
	}

	total := 0
	for _, c := range pool {
		if c.Priority > 0 {
			total += c.Priority
		}
	}
	if total == 0 {
		idx := int(r * float64(len(pool)))
		if idx >= len(pool) {
			idx = len(pool) - 1
		}
		return pool[idx]
	}

	target := r * float64(total)
	acc := 0.0
	for _, c := range pool {
		if c.Priority <= 0 {
			continue
		}
		acc += float64(c.Priority)
		if target < acc {
			return c
		}
	}
	// Rounding at r close to 1 lands past the last bucket.
	for i := len(pool) - 1; i >= 0; i-- {
		if pool[i].Priority > 0 {
			return pool[i]
		}
	}
	return pool[len(pool)-1]
}
