package policy

import (
	"fmt"
	"strings"
)

// Flags attached by the engine itself rather than by the scorer.
const (
	FlagDomainBlocklist       = "domain_blocklist"
	FlagDomainAllowlistBypass = "domain_allowlist_bypass"
	FlagLanguageException     = "language_exception"
)

// BlockedBy classifies which stage produced a block decision.
const (
	BlockedByDomainPolicy  = "domain-policy"
	BlockedByRuleThreshold = "rule-threshold"
	BlockedByFailClosed    = "fail-closed"
	BlockedByLLMJudge      = "llm-judge"
	BlockedByPolicy        = "policy"
)

// AllowedBy classifies why an allow bypassed or survived inspection.
const (
	AllowedByDomainAllowlistBypass = "domain-allowlist-bypass"
	AllowedByLanguageException     = "language-exception"
)

// JudgeVerdict is the model adjudication consumed by the engine. A nil
// verdict means the judge was not consulted or failed.
type JudgeVerdict struct {
	Label      string  // benign, suspicious, malicious
	Confidence float64 // 0..1
}

// Judge labels.
const (
	JudgeLabelBenign     = "benign"
	JudgeLabelSuspicious = "suspicious"
	JudgeLabelMalicious  = "malicious"
)

// suspiciousBlockConfidence is the confidence floor at which a "suspicious"
// judge label blocks on its own.
const suspiciousBlockConfidence = 0.75

// Input gathers everything the engine combines into one decision.
type Input struct {
	Score        int
	Flags        []string
	AllowSignals []string
	DomainAction Action
	DomainReason string
	Judge        *JudgeVerdict

	MediumThreshold int
	BlockThreshold  int
	FailClosed      bool
}

// Decision is the single allow/block outcome with provenance.
type Decision struct {
	Allow     bool
	Bypassed  bool
	Score     int
	Flags     []string
	Reason    string
	BlockedBy string // set only when Allow is false
	AllowedBy string // set only for classified allows
}

// Decide combines the rule score, the domain action, and an optional judge
// verdict into one decision. Precedence: domain block, domain bypass, judge,
// block threshold, fail-closed medium threshold, allow.
func Decide(in Input) Decision {
	switch in.DomainAction {
	case ActionBlock:
		d := Decision{
			Allow:  false,
			Score:  in.Score,
			Flags:  appendUnique(in.Flags, FlagDomainBlocklist),
			Reason: in.DomainReason,
		}
		d.BlockedBy = classifyBlock(in.DomainAction, d.Flags, d.Reason)
		return d
	case ActionAllowBypass:
		return Decision{
			Allow:     true,
			Bypassed:  true,
			Score:     0,
			Flags:     []string{FlagDomainAllowlistBypass},
			AllowedBy: AllowedByDomainAllowlistBypass,
		}
	}

	flags := append([]string(nil), in.Flags...)
	if in.Judge != nil {
		flags = appendUnique(flags, "llm_judge:"+in.Judge.Label)
		blocked := false
		switch in.Judge.Label {
		case JudgeLabelMalicious:
			blocked = true
		case JudgeLabelSuspicious:
			blocked = in.Judge.Confidence >= suspiciousBlockConfidence
		}
		if blocked {
			d := Decision{
				Allow: false,
				Score: in.Score,
				Flags: flags,
				Reason: fmt.Sprintf("LLM judge labeled content %s (confidence %.2f)",
					in.Judge.Label, in.Judge.Confidence),
			}
			d.BlockedBy = classifyBlock(in.DomainAction, d.Flags, d.Reason)
			return d
		}
	}

	if in.Score >= in.BlockThreshold {
		d := Decision{
			Allow:  false,
			Score:  in.Score,
			Flags:  flags,
			Reason: fmt.Sprintf("Rule score %d ≥ block threshold %d", in.Score, in.BlockThreshold),
		}
		d.BlockedBy = classifyBlock(in.DomainAction, d.Flags, d.Reason)
		return d
	}
	if in.FailClosed && in.Score >= in.MediumThreshold {
		d := Decision{
			Allow:  false,
			Score:  in.Score,
			Flags:  flags,
			Reason: fmt.Sprintf("Fail-closed: rule score %d ≥ medium threshold %d", in.Score, in.MediumThreshold),
		}
		d.BlockedBy = classifyBlock(in.DomainAction, d.Flags, d.Reason)
		return d
	}

	return Decision{
		Allow:     true,
		Score:     in.Score,
		Flags:     flags,
		AllowedBy: classifyAllow(false, in.AllowSignals),
	}
}

// classifyBlock maps a block decision onto the blockedBy taxonomy.
func classifyBlock(domainAction Action, flags []string, reason string) string {
	if domainAction == ActionBlock || contains(flags, FlagDomainBlocklist) {
		return BlockedByDomainPolicy
	}
	if strings.HasPrefix(reason, "Fail-closed:") {
		return BlockedByFailClosed
	}
	if strings.HasPrefix(reason, "Rule score") {
		return BlockedByRuleThreshold
	}
	if hasJudgeFlag(flags) || strings.Contains(reason, "LLM judge") {
		return BlockedByLLMJudge
	}
	return BlockedByPolicy
}

// classifyAllow maps an allow decision onto the allowedBy taxonomy. Ordinary
// allows stay unclassified.
func classifyAllow(bypassed bool, allowSignals []string) string {
	if bypassed {
		return AllowedByDomainAllowlistBypass
	}
	if contains(allowSignals, FlagLanguageException) {
		return AllowedByLanguageException
	}
	return ""
}

func hasJudgeFlag(flags []string) bool {
	for _, f := range flags {
		if strings.HasPrefix(f, "llm_judge:") {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func appendUnique(list []string, s string) []string {
	if contains(list, s) {
		return list
	}
	return append(append([]string(nil), list...), s)
}
