package policy

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
)

// Action is the outcome of evaluating a host against the domain lists.
type Action string

const (
	// ActionAllowBypass skips content inspection entirely.
	ActionAllowBypass Action = "allow-bypass"
	// ActionBlock refuses the host before any retrieval.
	ActionBlock Action = "block"
	// ActionInspect retrieves and runs the content through the scorer.
	ActionInspect Action = "inspect"
)

// Verdict carries the action together with the rule that produced it.
type Verdict struct {
	Action Action
	Rule   string
	Reason string
}

// NormalizeDomain canonicalizes a list entry or host for matching: lowercase,
// surrounding whitespace and the trailing dot removed, a leading "*." wildcard
// marker stripped, and unicode names converted to their ASCII (punycode) form.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimSuffix(d, ".")
	d = strings.TrimPrefix(d, "*.")
	if d == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(d); err == nil {
		d = ascii
	}
	return d
}

// ValidateDomain normalizes raw and verifies it is a plausible DNS name:
// at most 255 octets, RFC-1035 labels of 1..63 characters drawn from
// [a-z0-9-] with no leading or trailing hyphen.
func ValidateDomain(raw string) (string, error) {
	d := NormalizeDomain(raw)
	if d == "" {
		return "", fmt.Errorf("empty domain")
	}
	if len(d) > 255 {
		return "", fmt.Errorf("domain exceeds 255 characters")
	}
	for _, label := range strings.Split(d, ".") {
		if label == "" || len(label) > 63 {
			return "", fmt.Errorf("invalid label length in %q", d)
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return "", fmt.Errorf("label must not start or end with a hyphen in %q", d)
		}
		for i := 0; i < len(label); i++ {
			c := label[i]
			if c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-' {
				continue
			}
			return "", fmt.Errorf("invalid character %q in %q", c, d)
		}
	}
	return d, nil
}

// matches reports whether host is covered by rule. Both are expected to be
// normalized. A rule covers itself and all of its subdomains.
func matches(host, rule string) bool {
	if rule == "" {
		return false
	}
	return host == rule || strings.HasSuffix(host, "."+rule)
}

// MergeLists unions static and runtime entries, normalizing and deduplicating
// by domain. Order is static first, then runtime additions.
func MergeLists(static, runtime []string) []string {
	seen := make(map[string]struct{}, len(static)+len(runtime))
	out := make([]string, 0, len(static)+len(runtime))
	for _, group := range [][]string{static, runtime} {
		for _, raw := range group {
			d := NormalizeDomain(raw)
			if d == "" {
				continue
			}
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

// Evaluate decides the action for host under the two lists. The blocklist is
// evaluated first and wins unconditionally; the allowlist can only bypass
// inspection, never override a block.
func Evaluate(host string, allowlist, blocklist []string) Verdict {
	h := NormalizeDomain(host)
	for _, rule := range blocklist {
		if matches(h, rule) {
			return Verdict{
				Action: ActionBlock,
				Rule:   rule,
				Reason: fmt.Sprintf("Domain matched blocklist rule: %s", rule),
			}
		}
	}
	for _, rule := range allowlist {
		if matches(h, rule) {
			return Verdict{
				Action: ActionAllowBypass,
				Rule:   rule,
				Reason: fmt.Sprintf("Domain matched allowlist rule: %s", rule),
			}
		}
	}
	return Verdict{Action: ActionInspect}
}
