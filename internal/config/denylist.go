package config

import (
	"slices"
	"strings"
)

// DefaultDenylistDomains returns sensitive domains whose browsing metadata
// is never recorded, on top of the rules seeded by the storage migrations.
func DefaultDenylistDomains() []string {
	return []string{
		// Banking & payments
		"bankofamerica.com",
		"wellsfargo.com",
		"capitalone.com",
		"schwab.com",
		"fidelity.com",
		"vanguard.com",
		"venmo.com",

		// Password managers
		"1password.com",
		"bitwarden.com",
		"lastpass.com",

		// Healthcare
		"mychart.com",
		"kp.org",

		// Identity providers
		"login.microsoftonline.com",
		"auth0.com",
		"okta.com",
	}
}

// Denylist merges the built-in domains with the configured ones, lowercased
// and deduplicated.
func (t TrackingConfig) Denylist() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range append(DefaultDenylistDomains(), t.DenylistDomains...) {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}
