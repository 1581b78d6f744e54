package ingest

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	sizeRe       = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(KB|MB|GB|TB)`)
	infohashRe   = regexp.MustCompile(`magnet:\?xt=urn:btih:([a-fA-F0-9]{32,40})`)
	magnetHrefRe = regexp.MustCompile(`(?i)magnet:\?[^"'\s<]+`)
)

var sizeFactors = map[string]int64{
	"KB": 1 << 10,
	"MB": 1 << 20,
	"GB": 1 << 30,
	"TB": 1 << 40,
}

// parseSize finds the first human-readable size ("700 MB", "1.46 GB") in
// text and converts it to bytes. Nil when no size is present.
func parseSize(text string) *int64 {
	match := sizeRe.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	factor, ok := sizeFactors[strings.ToUpper(match[2])]
	if !ok {
		return nil
	}
	bytes := int64(value * float64(factor))
	return &bytes
}

// extractInfohash pulls the btih hash out of a magnet link. Nil when the
// link carries none.
func extractInfohash(magnetURL string) *string {
	match := infohashRe.FindStringSubmatch(magnetURL)
	if match == nil {
		return nil
	}
	hash := match[1]
	return &hash
}

// parseForumID reads the forum identifier from a topic URL's "f" query
// parameter. Empty when absent or unparseable.
func parseForumID(topicURL string) string {
	parsed, err := url.Parse(topicURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("f")
}

// anyRegexMatch reports whether any pattern matches text. Patterns are
// applied case-insensitively; invalid patterns are skipped.
func anyRegexMatch(patterns []string, text string) bool {
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
