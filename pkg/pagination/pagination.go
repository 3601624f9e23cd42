package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultCount  = 20
	DefaultOffset = 0
)

// Params holds the _count/_offset window of a search request.
type Params struct {
	Count  int
	Offset int
}

// Parse converts raw _count and _offset values. Missing, malformed or
// out-of-range values fall back to the defaults.
func Parse(count, offset string) Params {
	p := Params{Count: DefaultCount, Offset: DefaultOffset}
	if n, err := strconv.Atoi(strings.TrimSpace(count)); err == nil && n > 0 {
		p.Count = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(offset)); err == nil && n >= 0 {
		p.Offset = n
	}
	return p
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return total > 0 && p.Offset+p.Count < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious(total int) bool {
	return total > 0 && p.Offset > 0
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Count
}

// PreviousOffset returns the offset for the previous page.
// Returns 0 if the result would be negative.
func (p Params) PreviousOffset() int {
	prev := p.Offset - p.Count
	if prev < 0 {
		return 0
	}
	return prev
}

// Link represents a single FHIR Bundle link entry.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// Links generates the self, next and previous links of a searchset Bundle.
// Every link is derived from requestURL: pre-existing _count and _offset
// pairs are dropped, all other query pairs keep their original order, and
// the computed window is appended.
func (p Params) Links(requestURL string, total int) []Link {
	base, kept := splitQuery(requestURL)

	links := []Link{
		{Relation: "self", URL: buildURL(base, kept, p.Offset, p.Count)},
	}
	if p.HasNext(total) {
		links = append(links, Link{Relation: "next", URL: buildURL(base, kept, p.NextOffset(), p.Count)})
	}
	if p.HasPrevious(total) {
		links = append(links, Link{Relation: "previous", URL: buildURL(base, kept, p.PreviousOffset(), p.Count)})
	}
	return links
}

// splitQuery separates the URL before '?' from its raw query pairs, removing
// the paging pairs. Pairs are kept verbatim so encoding is not altered.
func splitQuery(rawURL string) (string, []string) {
	if i := strings.Index(rawURL, "#"); i >= 0 {
		rawURL = rawURL[:i]
	}
	base, rawQuery, found := strings.Cut(rawURL, "?")
	if !found || rawQuery == "" {
		return base, nil
	}

	var kept []string
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, _, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if key == "_count" || key == "_offset" {
			continue
		}
		kept = append(kept, pair)
	}
	return base, kept
}

func buildURL(base string, kept []string, offset, count int) string {
	pairs := make([]string, 0, len(kept)+2)
	pairs = append(pairs, kept...)
	pairs = append(pairs, fmt.Sprintf("_offset=%d", offset), fmt.Sprintf("_count=%d", count))
	return base + "?" + strings.Join(pairs, "&")
}
