// Package injection scores text for prompt-injection risk. The scorer is a
// pure function: it normalizes the input, evaluates a data-driven rules
// table, runs fuzzy keyword and encoded-payload detectors, applies the
// confusable/language-list coupling, and returns a score with ordered
// flags and capped evidence. No I/O happens here.
package injection

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperifyio/clawrubber/internal/normalize"
)

// Result is the outcome of scoring one text.
type Result struct {
	Score        int
	Flags        []string
	AllowSignals []string
	Evidence     []Evidence
	Normalized   normalize.Result
}

// Score evaluates text for prompt-injection risk. extraLanguageNames
// extends the built-in language-name dictionary used by the language-list
// exception. The function is deterministic in its inputs, including flag
// and evidence order.
func Score(text string, extraLanguageNames []string) Result {
	n := normalize.Normalize(text)
	res := Result{Normalized: n}
	flags := newFlagSet()
	var ev []Evidence

	// Rules table.
	for _, r := range rules {
		if r.re == nil {
			spans := invisibleSpans(text, 3)
			if len(spans) == 0 {
				continue
			}
			res.Score += r.Weight
			flags.add(r.ID)
			for _, sp := range spans {
				ev = append(ev, Evidence{
					Flag:        r.ID,
					Detector:    DetectorRule,
					Basis:       BasisRaw,
					Start:       intPtr(sp.start),
					End:         intPtr(sp.end),
					MatchedText: sp.label,
					Excerpt:     excerptAround(text, sp.start, sp.end),
					Weight:      r.Weight,
				})
			}
			continue
		}
		target, basis := n.Text, BasisNormalized
		if r.Target == BasisRaw {
			target, basis = text, BasisRaw
		}
		locs := r.re.FindAllStringIndex(target, 3)
		if len(locs) == 0 {
			continue
		}
		res.Score += r.Weight
		flags.add(r.ID)
		for _, loc := range locs {
			e := Evidence{
				Flag:        r.ID,
				Detector:    DetectorRule,
				Basis:       basis,
				MatchedText: clipText(target[loc[0]:loc[1]], 80),
				Excerpt:     excerptAround(target, loc[0], loc[1]),
				Weight:      r.Weight,
			}
			if basis == BasisRaw {
				e.Start, e.End = intPtr(loc[0]), intPtr(loc[1])
			}
			ev = append(ev, e)
		}
	}

	// Normalization signal weight.
	if n.HasSignal(normalize.SignalInvisibleOrBidi) {
		res.Score += 2
		flags.add(FlagInvisibleOrBidi)
		ev = append(ev, Evidence{
			Flag:     FlagInvisibleOrBidi,
			Detector: DetectorNormalization,
			Basis:    BasisRaw,
			Weight:   2,
			Notes:    "invisible or bidi-control codepoints removed during normalization",
		})
	}

	// Typoglycemia detector.
	if matches := typoMatches(n.Text); len(matches) > 0 {
		added := typoScore(len(matches))
		res.Score += added
		flags.add(FlagTypoHighRisk)
		ev = append(ev, Evidence{
			Flag:     FlagTypoHighRisk,
			Detector: DetectorTypoglycemia,
			Basis:    BasisNormalized,
			Weight:   added,
			Notes:    fmt.Sprintf("%d fuzzy keyword matches", len(matches)),
		})
		for _, m := range matches {
			flags.add(typoKeywordFlagPfx + m.keyword)
			ev = append(ev, Evidence{
				Flag:        typoKeywordFlagPfx + m.keyword,
				Detector:    DetectorTypoglycemia,
				Basis:       BasisNormalized,
				MatchedText: m.token,
				Excerpt:     m.token,
				Weight:      3,
			})
		}
	}

	// Encoded payloads over raw text.
	if scan := scanEncodings(text); scan.payloadCount > 0 {
		res.Score++
		flags.add(FlagEncodedPayload)
		for _, run := range scan.runs {
			ev = append(ev, Evidence{
				Flag:        FlagEncodedPayload,
				Detector:    DetectorEncoding,
				Basis:       BasisRaw,
				Start:       intPtr(run.start),
				End:         intPtr(run.end),
				MatchedText: clipText(run.text, 48),
				Excerpt:     excerptAround(text, run.start, run.end),
				Weight:      1,
				Notes:       run.family,
			})
		}
		if scan.escapeCount > 0 {
			flags.add(FlagEscapeSequence)
			if run := firstEscapeRun(scan); run != nil {
				ev = append(ev, Evidence{
					Flag:        FlagEscapeSequence,
					Detector:    DetectorEncoding,
					Basis:       BasisRaw,
					Start:       intPtr(run.start),
					End:         intPtr(run.end),
					MatchedText: clipText(run.text, 48),
					Excerpt:     excerptAround(text, run.start, run.end),
					Weight:      1,
					Notes:       run.family,
				})
			}
		}
		if scan.decodeCtx != nil {
			res.Score += 2
			flags.add(FlagDecodeContext)
			ev = append(ev, Evidence{
				Flag:        FlagDecodeContext,
				Detector:    DetectorEncoding,
				Basis:       BasisRaw,
				Start:       intPtr(scan.decodeCtx.start),
				End:         intPtr(scan.decodeCtx.end),
				MatchedText: scan.decodeCtx.text,
				Excerpt:     excerptAround(text, scan.decodeCtx.start, scan.decodeCtx.end),
				Weight:      2,
			})
		}
		if scan.escapeCount >= 2 {
			res.Score++
		}
		if scan.b64HexCount >= 2 {
			res.Score++
		}
	}

	// Confusable coupling and the language-list exception. The gate only
	// opens when normalization actually replaced confusable codepoints.
	if n.ConfusableReplacements > 0 {
		det := detectLanguageList(text, extraLanguageNames)
		if det.listLike {
			res.AllowSignals = append(res.AllowSignals, AllowSignalLanguageException)
			ev = append(ev, Evidence{
				Flag:     AllowSignalLanguageException,
				Detector: DetectorNormalization,
				Basis:    BasisRaw,
				Weight:   0,
				Notes: fmt.Sprintf("language-selector list: %d names, token ratio %.2f (%s)",
					det.distinctMatches, det.ratio, strings.Join(det.sample, ", ")),
			})
		} else if len(n.MixedScriptTokens) > 0 && flags.anyIntent() {
			res.Score += 3
			flags.add(FlagConfusableMixed)
			ev = append(ev, Evidence{
				Flag:        FlagConfusableMixed,
				Detector:    DetectorNormalization,
				Basis:       BasisRaw,
				MatchedText: n.MixedScriptTokens[0],
				Excerpt:     strings.Join(n.MixedScriptTokens, " "),
				Weight:      3,
				Notes: fmt.Sprintf("%d mixed-script tokens, %d confusable codepoints replaced",
					len(n.MixedScriptTokens), n.ConfusableReplacements),
			})
		}
	}

	res.Flags = flags.list
	res.Evidence = finalizeEvidence(ev)
	return res
}

type flagSet struct {
	list []string
	seen map[string]struct{}
}

func newFlagSet() *flagSet {
	return &flagSet{seen: make(map[string]struct{})}
}

func (f *flagSet) add(name string) {
	if _, dup := f.seen[name]; dup {
		return
	}
	f.seen[name] = struct{}{}
	f.list = append(f.list, name)
}

func (f *flagSet) anyIntent() bool {
	for _, name := range f.list {
		if intentFlags[name] {
			return true
		}
	}
	return false
}

type invisibleSpan struct {
	start, end int
	label      string
}

func invisibleSpans(s string, max int) []invisibleSpan {
	var spans []invisibleSpan
	for i, r := range s {
		if !normalize.IsInvisible(r) {
			continue
		}
		spans = append(spans, invisibleSpan{
			start: i,
			end:   i + utf8.RuneLen(r),
			label: fmt.Sprintf("U+%04X", r),
		})
		if len(spans) == max {
			break
		}
	}
	return spans
}

func firstEscapeRun(scan encodingScan) *encodingRun {
	for i := range scan.runs {
		if scan.runs[i].escape {
			return &scan.runs[i]
		}
	}
	return nil
}
