package injection

import "regexp"

// Encoded-payload families counted over the raw input. Runs below the
// length floors are ignored; short hex or percent fragments occur all over
// ordinary pages.
var encodingFamilies = []struct {
	name   string
	escape bool
	re     *regexp.Regexp
}{
	{name: "base64", re: regexp.MustCompile(`[A-Za-z0-9+/]{32,}={0,2}`)},
	{name: "hex", re: regexp.MustCompile(`(?:[0-9a-f]{2}){12,}`)},
	{name: "percent-escape", escape: true, re: regexp.MustCompile(`(?:%[0-9a-f]{2}){6,}`)},
	{name: "unicode-escape", escape: true, re: regexp.MustCompile(`(?:\\u[0-9a-f]{4}){4,}`)},
	{name: "byte-escape", escape: true, re: regexp.MustCompile(`(?:\\x[0-9a-f]{2}){4,}`)},
}

var decodeContextRE = regexp.MustCompile(`(?i)\b(?:decode|deobfuscate|unpack|execute|run|ignore|bypass|instruction|prompt|shell|command)\b`)

type encodingRun struct {
	family string
	escape bool
	start  int
	end    int
	text   string
}

type encodingScan struct {
	// runs holds the first run per family that matched, in table order.
	runs []encodingRun
	// payloadCount totals non-overlapping runs across all families.
	payloadCount int
	// escapeCount totals runs of the escape families.
	escapeCount int
	// b64HexCount totals base64 and hex runs.
	b64HexCount int
	// decodeCtx is the first decode-context phrase, if any.
	decodeCtx *encodingRun
}

// scanEncodings counts encoded-payload runs and decode-context phrases in
// the raw text.
func scanEncodings(raw string) encodingScan {
	var scan encodingScan
	for _, fam := range encodingFamilies {
		idx := fam.re.FindAllStringIndex(raw, -1)
		if len(idx) == 0 {
			continue
		}
		scan.payloadCount += len(idx)
		if fam.escape {
			scan.escapeCount += len(idx)
		} else {
			scan.b64HexCount += len(idx)
		}
		first := idx[0]
		scan.runs = append(scan.runs, encodingRun{
			family: fam.name,
			escape: fam.escape,
			start:  first[0],
			end:    first[1],
			text:   raw[first[0]:first[1]],
		})
	}
	if loc := decodeContextRE.FindStringIndex(raw); loc != nil {
		scan.decodeCtx = &encodingRun{
			family: "decode-context",
			start:  loc[0],
			end:    loc[1],
			text:   raw[loc[0]:loc[1]],
		}
	}
	return scan
}

// clipText bounds evidence text so a kilobyte of base64 does not land in
// the record verbatim.
func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && s[max]&0xC0 == 0x80 {
		max--
	}
	return s[:max]
}
