package injection

import "sort"

// typoKeywords are the high-risk terms the fuzzy detector watches for.
// Scrambled middles ("igonre") and small edits ("pas5word" won't match,
// "passwrod" will) still hit.
var typoKeywords = []string{
	"ignore", "bypass", "override", "system", "prompt", "instruction",
	"instructions", "developer", "secret", "password", "token", "execute",
	"shell", "command", "curl", "wget", "reveal", "exfiltrate",
}

// keywordsByLen buckets keywords by length; a token can only match a
// keyword of the same length.
var keywordsByLen = func() map[int][]string {
	m := make(map[int][]string)
	for _, k := range typoKeywords {
		m[len(k)] = append(m[len(k)], k)
	}
	return m
}()

type typoMatch struct {
	token   string
	keyword string
}

// typoMatches scans normalized text for scrambled or lightly misspelled
// keywords. Tokens are maximal runs of lowercase ASCII letters between 5
// and 20 characters. A token matches a keyword of equal length when the
// first and last characters agree and either the middles are anagrams or
// the Damerau-Levenshtein distance is at most 2.
func typoMatches(normalized string) []typoMatch {
	var out []typoMatch
	n := len(normalized)
	for i := 0; i < n; {
		if !isLowerAlpha(normalized[i]) {
			i++
			continue
		}
		j := i + 1
		for j < n && isLowerAlpha(normalized[j]) {
			j++
		}
		tok := normalized[i:j]
		i = j
		if len(tok) < 5 || len(tok) > 20 {
			continue
		}
		for _, k := range keywordsByLen[len(tok)] {
			if matchesKeyword(tok, k) {
				out = append(out, typoMatch{token: tok, keyword: k})
			}
		}
	}
	return out
}

// typoScore converts a match count into the score contribution: 3 for the
// first match, +1 per further match, capped at 7.
func typoScore(matches int) int {
	if matches <= 0 {
		return 0
	}
	s := 3 + (matches - 1)
	if s > 7 {
		s = 7
	}
	return s
}

func isLowerAlpha(b byte) bool { return b >= 'a' && b <= 'z' }

func matchesKeyword(t, k string) bool {
	if len(t) != len(k) || t[0] != k[0] || t[len(t)-1] != k[len(k)-1] {
		return false
	}
	if sortedMiddle(t) == sortedMiddle(k) {
		return true
	}
	return damerauLevenshtein(t, k) <= 2
}

func sortedMiddle(s string) string {
	if len(s) <= 2 {
		return ""
	}
	b := []byte(s[1 : len(s)-1])
	sort.Slice(b, func(i, j int) bool { return b[i] < b[j] })
	return string(b)
}

// damerauLevenshtein computes edit distance with adjacent transpositions
// (optimal string alignment). Inputs are short ASCII tokens so the full
// matrix is cheap.
func damerauLevenshtein(a, b string) int {
	la, lb := len(a), len(b)
	prev2 := make([]int, lb+1)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			m := min(cur[j-1]+1, prev[j]+1)
			m = min(m, prev[j-1]+cost)
			if i > 1 && j > 1 && a[i-1] == b[j-2] && a[i-2] == b[j-1] {
				m = min(m, prev2[j-2]+1)
			}
			cur[j] = m
		}
		prev2, prev, cur = prev, cur, prev2
	}
	return prev[lb]
}
