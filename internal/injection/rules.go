package injection

import "regexp"

// Flags emitted by detectors that are not rows of the rules table.
const (
	FlagInvisibleOrBidi = "unicode_invisible_or_bidi"
	FlagConfusableMixed = "confusable_mixed_script"
	FlagTypoHighRisk    = "typoglycemia_high_risk_keyword"
	FlagEncodedPayload  = "encoded_payload_candidate"
	FlagEscapeSequence  = "escape_sequence_obfuscation"
	FlagDecodeContext   = "decode_instruction_context"
	typoKeywordFlagPfx  = "typoglycemia_keyword:"
)

// AllowSignalLanguageException marks text recognized as a language-selector
// list rather than an injection attempt.
const AllowSignalLanguageException = "language_exception"

// ruleSpec is one row of the rules table. The table is data: each row
// carries its id (doubling as the emitted flag), weight, the text it runs
// against and an RE2 pattern with bounded gaps. The invisible_characters
// row has no pattern; it is matched by a codepoint scan.
type ruleSpec struct {
	ID      string
	Weight  int
	Target  Basis
	Pattern string
}

var ruleTable = []ruleSpec{
	{
		ID:      "instruction_override",
		Weight:  4,
		Target:  BasisNormalized,
		Pattern: `(?is)\b(?:ignore|disregard|override)\b.{0,40}\b(?:previous|prior|all)\b.{0,40}\b(?:instructions?|prompts?|rules?)\b`,
	},
	{
		ID:      "role_hijack",
		Weight:  3,
		Target:  BasisNormalized,
		Pattern: `(?is)\b(?:you are now|act as|pretend to be)\b.{0,30}\b(?:system|developer|administrator|root)\b`,
	},
	{
		ID:      "prompt_exfiltration",
		Weight:  4,
		Target:  BasisNormalized,
		Pattern: `(?is)\b(?:show|reveal|print|leak|expose)\b.{0,40}\b(?:system prompt|developer message|hidden instructions?)\b`,
	},
	{
		ID:      "secret_exfiltration",
		Weight:  5,
		Target:  BasisNormalized,
		Pattern: `(?is)\b(?:api keys?|access tokens?|secrets?|passwords?|private keys?)\b.{0,40}\b(?:send|share|output|return|dump)\b`,
	},
	{
		ID:      "tool_abuse",
		Weight:  3,
		Target:  BasisNormalized,
		Pattern: `(?is)\b(?:run|execute|invoke|call)\b.{0,30}\b(?:shell|command|tool|curl|wget|powershell)\b`,
	},
	{
		ID:      "encoding_obfuscation",
		Weight:  2,
		Target:  BasisNormalized,
		Pattern: `(?is)\b(?:base64|hex|rot13|decode this|obfuscated)\b`,
	},
	{
		ID:      "jailbreak_marker",
		Weight:  4,
		Target:  BasisNormalized,
		Pattern: `(?is)\b(?:do not follow safety|bypass safeguards|jailbreak|developer mode|dan mode)\b`,
	},
	{
		ID:     "invisible_characters",
		Weight: 2,
		Target: BasisRaw,
		// matched by scanning for invisible/bidi codepoints
	},
	{
		ID:      "urgent_manipulation",
		Weight:  2,
		Target:  BasisNormalized,
		Pattern: `(?is)\b(?:urgent|immediately|do this now)\b.{0,20}\b(?:ignore|bypass|disable)\b`,
	},
}

type rule struct {
	ruleSpec
	re *regexp.Regexp
}

var rules = compileRules(ruleTable)

func compileRules(specs []ruleSpec) []rule {
	out := make([]rule, 0, len(specs))
	for _, s := range specs {
		r := rule{ruleSpec: s}
		if s.Pattern != "" {
			r.re = regexp.MustCompile(s.Pattern)
		}
		out = append(out, r)
	}
	return out
}

// intentFlags is the high-risk set consulted by the confusable coupling
// step: a mixed-script token only scores when the page also shows intent.
var intentFlags = map[string]bool{
	"instruction_override": true,
	"role_hijack":          true,
	"prompt_exfiltration":  true,
	"secret_exfiltration":  true,
	"tool_abuse":           true,
	"jailbreak_marker":     true,
	"urgent_manipulation":  true,
	FlagTypoHighRisk:       true,
	FlagDecodeContext:      true,
}