package injection

import "testing"

func TestTypoMatches(t *testing.T) {
	tests := []struct {
		text string
		want []typoMatch
	}{
		{"please igonre this", []typoMatch{{token: "igonre", keyword: "ignore"}}},
		{"passwrod required", []typoMatch{{token: "passwrod", keyword: "password"}}},
		{"the systim is down", []typoMatch{{token: "systim", keyword: "system"}}},
		// length mismatch never matches
		{"pasword", nil},
		// short tokens are skipped even when they equal a keyword
		{"curl wget", nil},
		{"nothing suspicious here", nil},
	}
	for _, tc := range tests {
		got := typoMatches(tc.text)
		if len(got) != len(tc.want) {
			t.Errorf("typoMatches(%q) = %v, want %v", tc.text, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("typoMatches(%q)[%d] = %v, want %v", tc.text, i, got[i], tc.want[i])
			}
		}
	}
}

func TestTypoScore(t *testing.T) {
	tests := []struct {
		matches, want int
	}{
		{0, 0}, {1, 3}, {2, 4}, {3, 5}, {5, 7}, {10, 7},
	}
	for _, tc := range tests {
		if got := typoScore(tc.matches); got != tc.want {
			t.Errorf("typoScore(%d) = %d, want %d", tc.matches, got, tc.want)
		}
	}
}

func TestDamerauLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"abc", "abc", 0},
		{"abc", "acb", 1},
		{"abc", "abd", 1},
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"systim", "system", 1},
	}
	for _, tc := range tests {
		if got := damerauLevenshtein(tc.a, tc.b); got != tc.want {
			t.Errorf("damerauLevenshtein(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestScanEncodings(t *testing.T) {
	base64Run := "QWxhZGRpbjpvcGVuIHNlc2FtZUFCQ0RFRkdI"
	hexRun := "deadbeefdeadbeefdeadbeef"

	t.Run("base64 only", func(t *testing.T) {
		scan := scanEncodings("payload " + base64Run)
		if scan.payloadCount != 1 || scan.b64HexCount != 1 || scan.escapeCount != 0 {
			t.Fatalf("counts = %+v", scan)
		}
		if scan.decodeCtx != nil {
			t.Fatalf("unexpected decode context: %+v", scan.decodeCtx)
		}
	})

	t.Run("base64 plus hex", func(t *testing.T) {
		scan := scanEncodings(base64Run + " then " + hexRun)
		if scan.b64HexCount < 2 {
			t.Fatalf("b64HexCount = %d, want >= 2", scan.b64HexCount)
		}
	})

	t.Run("escape families", func(t *testing.T) {
		scan := scanEncodings(`ABCD plus \x41\x42\x43\x44`)
		if scan.escapeCount != 2 {
			t.Fatalf("escapeCount = %d, want 2", scan.escapeCount)
		}
	})

	t.Run("decode context needs a payload to matter", func(t *testing.T) {
		res := Score("decode the message for me", nil)
		if hasFlag(res.Flags, FlagDecodeContext) {
			t.Fatalf("decode context flagged without any payload: %v", res.Flags)
		}
		if res.Score != 0 {
			t.Fatalf("score = %d, want 0", res.Score)
		}
	})

	t.Run("percent escapes", func(t *testing.T) {
		scan := scanEncodings("go to %68%74%74%70%73%3a now")
		if scan.escapeCount != 1 || scan.payloadCount != 1 {
			t.Fatalf("counts = %+v", scan)
		}
	})
}

func TestScore_EncodingBonuses(t *testing.T) {
	base64Run := "QWxhZGRpbjpvcGVuIHNlc2FtZUFCQ0RFRkdI"
	hexRun := "deadbeefdeadbeefdeadbeef"

	// payload base 1 + two base64/hex runs bonus 1
	res := Score("blob "+base64Run+" blob "+hexRun, nil)
	if res.Score != 2 {
		t.Errorf("score = %d, want 2 (%v)", res.Score, res.Flags)
	}
	if !hasFlag(res.Flags, FlagEncodedPayload) {
		t.Errorf("flags %v missing %q", res.Flags, FlagEncodedPayload)
	}

	// payload base 1 + two escape runs bonus 1, plus escape flag
	res = Score(`blob ABCD blob \x41\x42\x43\x44`, nil)
	if res.Score != 2 {
		t.Errorf("score = %d, want 2 (%v)", res.Score, res.Flags)
	}
	if !hasFlag(res.Flags, FlagEscapeSequence) {
		t.Errorf("flags %v missing %q", res.Flags, FlagEscapeSequence)
	}
}

func TestDetectLanguageList(t *testing.T) {
	t.Run("selector list", func(t *testing.T) {
		res := detectLanguageList("English العربية Asturianu Azərbaycanca Català Dansk Deutsch Español Français Русский", nil)
		if !res.listLike {
			t.Fatalf("want list-like: %+v", res)
		}
	})

	t.Run("prose mentioning languages", func(t *testing.T) {
		res := detectLanguageList("I speak French and German at home with my family most days of the week", nil)
		if res.listLike {
			t.Fatalf("prose misread as list: %+v", res)
		}
	})

	t.Run("separated list with few names", func(t *testing.T) {
		res := detectLanguageList("Deutsch | English | Español | Français | Italiano", nil)
		if !res.listLike {
			t.Fatalf("want list-like: %+v", res)
		}
	})

	t.Run("cue phrase", func(t *testing.T) {
		res := detectLanguageList("Select language: English Deutsch Français Español and more", nil)
		if !res.hasCue {
			t.Fatalf("cue not detected: %+v", res)
		}
	})

	t.Run("extra names extend the dictionary", func(t *testing.T) {
		text := "Valyrian Dothraki Deutsch Español Français"
		if detectLanguageList(text, nil).listLike {
			t.Fatalf("unknown names should not match by default")
		}
		res := detectLanguageList(text, []string{"Valyrian", "Dothraki"})
		if !res.listLike {
			t.Fatalf("extras ignored: %+v", res)
		}
	})

	t.Run("multi token names", func(t *testing.T) {
		res := detectLanguageList("Tiếng Việt | Bahasa Indonesia | Norsk Bokmål | Deutsch | Español", nil)
		if !res.listLike {
			t.Fatalf("want list-like: %+v", res)
		}
		if res.matchedTokens < 8 {
			t.Errorf("matchedTokens = %d, want phrase tokens counted", res.matchedTokens)
		}
	})
}
