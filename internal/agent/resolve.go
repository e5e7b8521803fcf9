package agent

import "strings"

// Candidate is one task considered during reference resolution.
type Candidate struct {
	ID          int64
	Title       string
	Description string
}

// MatchTasks resolves a free-text reference against candidate tasks.
// Matching is tiered: exact title match beats substring match beats
// all-words match. Only the best non-empty tier is returned, so a single
// exact match wins even when the reference is a substring of other titles.
func MatchTasks(reference string, candidates []Candidate) []Candidate {
	ref := strings.ToLower(strings.TrimSpace(reference))
	if ref == "" {
		return nil
	}

	var exact, substring, allWords []Candidate
	words := strings.Fields(ref)
	for _, c := range candidates {
		title := strings.ToLower(c.Title)
		switch {
		case title == ref:
			exact = append(exact, c)
		case strings.Contains(title, ref):
			substring = append(substring, c)
		default:
			haystack := title + " " + strings.ToLower(c.Description)
			if containsAll(haystack, words) {
				allWords = append(allWords, c)
			}
		}
	}

	if len(exact) > 0 {
		return exact
	}
	if len(substring) > 0 {
		return substring
	}
	return allWords
}

func containsAll(haystack string, words []string) bool {
	for _, w := range words {
		if !strings.Contains(haystack, w) {
			return false
		}
	}
	return len(words) > 0
}
