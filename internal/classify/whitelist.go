package classify

import "strings"

// DefaultDomains are well-known sites the model tends to misclassify.
var DefaultDomains = []string{
	"google.com", "www.google.com",
	"youtube.com", "www.youtube.com",
	"facebook.com", "instagram.com",
	"wikipedia.org", "amazon.com",
}

// DefaultSchemes are URL prefixes that are always trusted (payment links).
var DefaultSchemes = []string{"upi://"}

// Whitelist is an immutable set of trusted domain substrings and scheme
// prefixes. It is safe for concurrent use.
type Whitelist struct {
	domains []string
	schemes []string
}

// NewWhitelist normalizes entries to lowercase and drops blanks and duplicates.
func NewWhitelist(domains, schemes []string) *Whitelist {
	return &Whitelist{
		domains: normalize(domains),
		schemes: normalize(schemes),
	}
}

// DefaultWhitelist returns the built-in whitelist.
func DefaultWhitelist() *Whitelist {
	return NewWhitelist(DefaultDomains, DefaultSchemes)
}

// Match reports whether rawURL starts with a trusted scheme or contains a
// whitelisted domain, case-insensitively.
func (w *Whitelist) Match(rawURL string) bool {
	if w == nil {
		return false
	}
	lower := strings.ToLower(rawURL)
	for _, s := range w.schemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	for _, d := range w.domains {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

// Domains returns a copy of the domain entries.
func (w *Whitelist) Domains() []string {
	return append([]string(nil), w.domains...)
}

// Schemes returns a copy of the scheme entries.
func (w *Whitelist) Schemes() []string {
	return append([]string(nil), w.schemes...)
}

func normalize(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
