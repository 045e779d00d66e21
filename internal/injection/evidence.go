package injection

import (
	"sort"
)

// Detector identifies which analysis produced an evidence entry.
type Detector string

const (
	DetectorRule          Detector = "rule"
	DetectorEncoding      Detector = "encoding"
	DetectorTypoglycemia  Detector = "typoglycemia"
	DetectorNormalization Detector = "normalization"
)

// Basis tells which text an evidence entry's offsets reference: the raw
// input as given to the scorer, or the normalized text derived from it.
type Basis string

const (
	BasisRaw        Basis = "raw"
	BasisNormalized Basis = "normalized"
)

// Evidence records why a flag fired. Start and End are byte offsets into
// the text named by Basis; they are nil for normalized-basis matches
// because normalization does not preserve an offset map back to the input.
type Evidence struct {
	Flag        string   `json:"flag"`
	Detector    Detector `json:"detector"`
	Basis       Basis    `json:"basis"`
	Start       *int     `json:"start"`
	End         *int     `json:"end"`
	MatchedText string   `json:"matchedText"`
	Excerpt     string   `json:"excerpt"`
	Weight      int      `json:"weight"`
	Notes       string   `json:"notes,omitempty"`
}

// maxEvidence bounds the evidence list attached to a score.
const maxEvidence = 20

type evidenceKey struct {
	flag        string
	detector    Detector
	basis       Basis
	start       int
	end         int
	hasOffsets  bool
	matchedText string
}

func keyOf(e Evidence) evidenceKey {
	k := evidenceKey{
		flag:        e.Flag,
		detector:    e.Detector,
		basis:       e.Basis,
		matchedText: e.MatchedText,
	}
	if e.Start != nil && e.End != nil {
		k.hasOffsets = true
		k.start = *e.Start
		k.end = *e.End
	}
	return k
}

// finalizeEvidence deduplicates, orders and caps an evidence list. The
// order is total: descending weight, then flag, detector, basis, offsets
// (entries without offsets sort after those with) and matched text.
func finalizeEvidence(ev []Evidence) []Evidence {
	seen := make(map[evidenceKey]struct{}, len(ev))
	out := ev[:0]
	for _, e := range ev {
		k := keyOf(e)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if a.Flag != b.Flag {
			return a.Flag < b.Flag
		}
		if a.Detector != b.Detector {
			return a.Detector < b.Detector
		}
		if a.Basis != b.Basis {
			return a.Basis < b.Basis
		}
		as, bs := offsetOrNil(a.Start), offsetOrNil(b.Start)
		if as != bs {
			return as < bs
		}
		return a.MatchedText < b.MatchedText
	})
	if len(out) > maxEvidence {
		out = out[:maxEvidence]
	}
	return out
}

func offsetOrNil(p *int) int {
	if p == nil {
		return 1 << 30
	}
	return *p
}

func intPtr(i int) *int { return &i }

// excerptAround returns a window of up to 30 runes of context on each side
// of the [start,end) byte span in s, clamped to rune boundaries.
func excerptAround(s string, start, end int) string {
	if start < 0 || end > len(s) || start > end {
		return ""
	}
	lo := start
	for n := 0; lo > 0 && n < 30; n++ {
		r := lo - 1
		for r > 0 && s[r]&0xC0 == 0x80 {
			r--
		}
		lo = r
	}
	hi := end
	for n := 0; hi < len(s) && n < 30; n++ {
		r := hi + 1
		for r < len(s) && s[r]&0xC0 == 0x80 {
			r++
		}
		hi = r
	}
	return s[lo:hi]
}
