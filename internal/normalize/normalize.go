// Package normalize rewrites text that may have been obfuscated to slip past
// pattern matching. It applies a fixed sequence of transformations (Unicode
// folding, invisible-character stripping, entity decoding, homoglyph
// replacement, separator collapsing, case folding, repeat collapsing,
// whitespace collapsing) and reports which of them actually changed the
// input, so downstream scoring can tell an innocent document from one that
// needed heavy de-obfuscation.
package normalize

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/hyperifyio/clawrubber/internal/sanitize"
)

// Transformation names reported to callers when the corresponding step
// changed the text.
const (
	TransformNFKC            = "unicode_nfkc"
	TransformStripInvisible  = "strip_invisible_or_bidi"
	TransformDecodeEntities  = "decode_html_entities"
	TransformConfusables     = "replace_confusables"
	TransformSeparatorRuns   = "collapse_separator_runs"
	TransformLowercase       = "lowercase"
	TransformRepeatedLetters = "collapse_repeated_letters"
	TransformWhitespace      = "normalize_whitespace"
)

// Signal flags raised during normalization. These are observations, not
// scoring flags; the detector layer decides what they are worth.
const (
	SignalInvisibleOrBidi = "unicode_invisible_or_bidi"
	SignalConfusableMixed = "confusable_mixed_script"
)

// Result is the outcome of a Normalize call.
type Result struct {
	// Text is the fully normalized text.
	Text string
	// Transformations lists, in application order, the steps that changed
	// the input. A clean ASCII document comes back with an empty list.
	Transformations []string
	// SignalFlags holds observations raised while normalizing, such as the
	// presence of invisible characters or mixed-script tokens.
	SignalFlags []string
	// MixedScriptTokens are tokens that combined Latin letters with
	// confusable Cyrillic or Greek codepoints, recorded before replacement.
	MixedScriptTokens []string
	// ConfusableReplacements counts individual codepoints rewritten to
	// their Latin targets.
	ConfusableReplacements int
}

// Replaced reports whether at least one confusable codepoint was rewritten.
func (r Result) Replaced() bool { return r.ConfusableReplacements > 0 }

// HasSignal reports whether the named signal flag was raised.
func (r Result) HasSignal(name string) bool {
	for _, f := range r.SignalFlags {
		if f == name {
			return true
		}
	}
	return false
}

const maxRecordedMixedTokens = 32

var separatorRunRE = regexp.MustCompile(`[._:/\\|-]{2,}`)

// entityDecodeRounds bounds repeated entity decoding. Layered encodings such
// as &amp;amp;#105; unwrap one layer per round; four rounds is beyond
// anything observed in the wild and keeps the pass idempotent on its own
// output.
const entityDecodeRounds = 4

// Normalize applies the full transformation sequence to input. Steps are
// ordered so that each operates on the output of the previous one, and a
// step is recorded only when it changed the text. Running Normalize on its
// own output yields the same text.
func Normalize(input string) Result {
	res := Result{}
	text := input

	// 1. Unicode NFKC folds width, compatibility and presentation forms.
	if folded := norm.NFKC.String(text); folded != text {
		text = folded
		res.Transformations = append(res.Transformations, TransformNFKC)
	}

	// 2. Strip invisible and bidi-control characters.
	if stripped := stripInvisible(text); stripped != text {
		text = stripped
		res.Transformations = append(res.Transformations, TransformStripInvisible)
		res.SignalFlags = append(res.SignalFlags, SignalInvisibleOrBidi)
	}

	// 3. Decode HTML entities, unwrapping layered encodings.
	if decoded := decodeEntities(text); decoded != text {
		text = decoded
		res.Transformations = append(res.Transformations, TransformDecodeEntities)
	}

	// 4. Confusable analysis on the decoded text: record mixed-script
	// tokens, then replace every known confusable codepoint.
	res.MixedScriptTokens = mixedScriptTokens(text)
	if len(res.MixedScriptTokens) > 0 {
		res.SignalFlags = append(res.SignalFlags, SignalConfusableMixed)
	}
	replaced, count := replaceConfusables(text)
	if count > 0 {
		text = replaced
		res.ConfusableReplacements = count
		res.Transformations = append(res.Transformations, TransformConfusables)
	}

	// 5. Collapse separator runs that split words character by character.
	if collapsed := separatorRunRE.ReplaceAllString(text, " "); collapsed != text {
		text = collapsed
		res.Transformations = append(res.Transformations, TransformSeparatorRuns)
	}

	// 6. Lowercase.
	if lower := strings.ToLower(text); lower != text {
		text = lower
		res.Transformations = append(res.Transformations, TransformLowercase)
	}

	// 7. Collapse Latin letters repeated four or more times to a double.
	if squeezed := collapseRepeats(text); squeezed != text {
		text = squeezed
		res.Transformations = append(res.Transformations, TransformRepeatedLetters)
	}

	// 8. Whitespace collapse, same rules as sanitized text.
	if ws := sanitize.CollapseWhitespace(text); ws != text {
		text = ws
		res.Transformations = append(res.Transformations, TransformWhitespace)
	}

	res.Text = text
	return res
}

// IsInvisible reports whether r is in the invisible/control set that the
// normalizer strips: C0 controls except TAB/LF/CR, DEL, zero-width and
// bidi-control codepoints, word joiner and BOM.
func IsInvisible(r rune) bool {
	switch {
	case r <= 0x0008:
		return true
	case r == 0x000B || r == 0x000C:
		return true
	case r >= 0x000E && r <= 0x001F:
		return true
	case r == 0x007F:
		return true
	case r >= 0x200B && r <= 0x200F:
		return true
	case r >= 0x202A && r <= 0x202E:
		return true
	case r == 0x2060:
		return true
	case r >= 0x2066 && r <= 0x2069:
		return true
	case r == 0xFEFF:
		return true
	}
	return false
}

func stripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if IsInvisible(r) {
			return -1
		}
		return r
	}, s)
}

func decodeEntities(s string) string {
	for i := 0; i < entityDecodeRounds; i++ {
		decoded := html.UnescapeString(s)
		if decoded == s {
			return s
		}
		s = decoded
	}
	return s
}

// isTokenRune matches letters, combining marks, digits, underscore and
// hyphen, so that identifiers like "pаss-word" are analyzed as one token.
func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsMark(r) || unicode.IsNumber(r) || r == '_' || r == '-'
}

// mixedScriptTokens returns tokens that mix Latin letters with confusable
// Cyrillic or Greek codepoints. Pure-Cyrillic or pure-Greek words are left
// alone: foreign-language prose is not suspicious by itself.
func mixedScriptTokens(s string) []string {
	var (
		tokens []string
		seen   map[string]struct{}
		start  = -1
	)
	flush := func(end int) {
		if start < 0 {
			return
		}
		tok := s[start:end]
		start = -1
		if !isMixedConfusable(tok) {
			return
		}
		if seen == nil {
			seen = make(map[string]struct{})
		}
		if _, dup := seen[tok]; dup {
			return
		}
		seen[tok] = struct{}{}
		if len(tokens) < maxRecordedMixedTokens {
			tokens = append(tokens, tok)
		}
	}
	for i, r := range s {
		if isTokenRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(s))
	return tokens
}

func isMixedConfusable(tok string) bool {
	var hasLatin, hasConfusable bool
	for _, r := range tok {
		if unicode.Is(unicode.Latin, r) {
			hasLatin = true
			continue
		}
		if _, ok := confusables[r]; ok && (unicode.Is(unicode.Cyrillic, r) || unicode.Is(unicode.Greek, r)) {
			hasConfusable = true
		}
	}
	return hasLatin && hasConfusable
}

func replaceConfusables(s string) (string, int) {
	count := 0
	out := strings.Map(func(r rune) rune {
		if t, ok := confusables[r]; ok {
			count++
			return t
		}
		return r
	}, s)
	if count == 0 {
		return s, 0
	}
	return out, count
}

// collapseRepeats rewrites runs of four or more identical Latin letters to
// exactly two, so "IGNOOOORE" folds to "ignoore" after lowercasing and a
// fuzzy keyword match can pick it up.
func collapseRepeats(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var (
		prev    rune
		runLen  int
		haveRun bool
	)
	emit := func() {
		if !haveRun {
			return
		}
		n := runLen
		if n >= 4 {
			n = 2
		}
		for i := 0; i < n; i++ {
			b.WriteRune(prev)
		}
		haveRun = false
	}
	for _, r := range s {
		if haveRun && r == prev && unicode.Is(unicode.Latin, r) && unicode.IsLetter(r) {
			runLen++
			continue
		}
		emit()
		prev = r
		runLen = 1
		haveRun = true
	}
	emit()
	return b.String()
}
