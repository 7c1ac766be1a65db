package blog

import (
	"sort"
	"strings"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/config"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/domain"
)

// CandidateURLs builds the domain-filtered, priority-ordered list of blog
// URLs worth fetching for a photo:
//
//  1. URLs embedded in the photo's EXIF and description text, most
//     photo-specific first
//  2. the account's configured blog URLs
//
// Every candidate must match the account's primary blog domain; posting a
// caption that links to a foreign site is worse than linking to the homepage.
func CandidateURLs(acct config.Account, photo domain.Photo) []string {
	var candidates []string
	seen := make(map[string]bool)
	add := func(url string) {
		url = strings.TrimSpace(url)
		if url == "" || seen[url] {
			return
		}
		// Drop a shorter prefix when a longer, more specific URL of the
		// same post is already known.
		for existing := range seen {
			if strings.HasPrefix(existing, url) && len(existing) > len(url) {
				return
			}
		}
		seen[url] = true
		candidates = append(candidates, url)
	}

	for _, u := range sortByDomainPreference(photo.EmbeddedURLs, acct.BlogDomains) {
		add(u)
	}
	for _, u := range acct.BlogURLs {
		add(u)
	}

	primary := acct.PrimaryDomain()
	if primary == "" {
		return candidates
	}
	filtered := candidates[:0]
	for _, u := range candidates {
		if strings.Contains(strings.ToLower(u), primary) {
			filtered = append(filtered, u)
		}
	}
	return filtered
}

// Resolve returns the single best blog URL for the photo, or "".
func Resolve(acct config.Account, photo domain.Photo) string {
	if urls := CandidateURLs(acct, photo); len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// sortByDomainPreference orders URLs so preferred domains come first; within
// the same domain, longer URLs win because they point at specific posts.
func sortByDomainPreference(urls, preferred []string) []string {
	if len(urls) < 2 || len(preferred) == 0 {
		return urls
	}
	rank := func(url string) int {
		lower := strings.ToLower(url)
		for i, d := range preferred {
			if d != "" && strings.Contains(lower, strings.ToLower(d)) {
				return i
			}
		}
		return len(preferred)
	}

	out := append([]string(nil), urls...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := rank(out[i]), rank(out[j])
		if ri != rj {
			return ri < rj
		}
		return len(out[i]) > len(out[j])
	})
	return out
}
