package injection

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// languageNames is the built-in dictionary of language names, native
// endonyms first, English exonyms after. Entries are canonicalized through
// the same tokenizer as scanned text, so spelling variants with
// apostrophes or spaces still match.
var languageNames = []string{
	// endonyms
	"english", "العربية", "مصرى", "español", "français", "deutsch",
	"italiano", "português", "nederlands", "polski", "русский",
	"українська", "беларуская", "български", "српски", "srpski",
	"hrvatski", "bosanski", "slovenščina", "slovenčina", "čeština",
	"magyar", "română", "ελληνικά", "türkçe", "azərbaycanca", "қазақша",
	"кыргызча", "o'zbekcha", "тоҷикӣ", "հայերեն", "ქართული", "עברית",
	"فارسی", "اردو", "پښتو", "हिन्दी", "বাংলা", "ਪੰਜਾਬੀ", "ગુજરાતી",
	"தமிழ்", "తెలుగు", "ಕನ್ನಡ", "മലയാളം", "සිංහල", "ไทย", "ລາວ",
	"ខ្មែរ", "中文", "日本語", "한국어", "tiếng việt", "bahasa indonesia",
	"bahasa melayu", "filipino", "tagalog", "suomi", "svenska", "norsk",
	"norsk bokmål", "nynorsk", "dansk", "íslenska", "eesti", "latviešu",
	"lietuvių", "català", "euskara", "galego", "asturianu", "aragonés",
	"occitan", "corsu", "furlan", "sardu", "cymraeg", "gaeilge",
	"gàidhlig", "brezhoneg", "frysk", "afrikaans", "kiswahili", "yorùbá",
	"igbo", "hausa", "አማርኛ", "soomaaliga", "malagasy", "setswana",
	"isizulu", "isixhosa", "sesotho", "esperanto", "latina",
	"interlingua", "shqip", "македонски", "crnogorski",
	"lëtzebuergesch", "монгол", "नेपाली", "मराठी", "سنڌي", "كوردی",
	"kurdî",

	// exonyms
	"arabic", "spanish", "french", "german", "italian", "portuguese",
	"dutch", "polish", "russian", "ukrainian", "belarusian", "bulgarian",
	"serbian", "croatian", "bosnian", "slovenian", "slovak", "czech",
	"hungarian", "romanian", "greek", "turkish", "azerbaijani", "kazakh",
	"kyrgyz", "uzbek", "tajik", "armenian", "georgian", "hebrew",
	"persian", "farsi", "urdu", "pashto", "hindi", "bengali", "punjabi",
	"gujarati", "tamil", "telugu", "kannada", "malayalam", "sinhala",
	"thai", "lao", "burmese", "khmer", "chinese", "mandarin",
	"cantonese", "japanese", "korean", "vietnamese", "indonesian",
	"malay", "finnish", "swedish", "norwegian", "danish", "icelandic",
	"estonian", "latvian", "lithuanian", "catalan", "basque", "galician",
	"asturian", "aragonese", "welsh", "irish", "scottish gaelic",
	"cornish", "breton", "frisian", "swahili", "yoruba", "zulu", "xhosa",
	"somali", "albanian", "macedonian", "montenegrin", "luxembourgish",
	"mongolian", "nepali", "marathi", "sindhi", "kurdish", "latin",
	"amharic", "maltese", "bokmål", "galego-português",
}

// languageCues are phrases that mark a language picker in context.
var languageCues = []string{
	"language", "languages", "idioma", "idiomas", "langue", "langues",
	"sprache", "sprachen", "язык", "языки", "语言", "言語", "언어",
	"lingua", "taal", "språk", "kieli", "nyelv", "język", "jazyk",
}

// listSeparators are characters that commonly delimit items in a
// selector-style list. Newlines count: vertical menus list one language
// per line.
const listSeparators = "|•·,;/\n"

var builtinLanguageKeys = buildLanguageKeys(languageNames)

// maxLanguagePhrase is the longest dictionary phrase, in tokens.
const maxLanguagePhrase = 3

type languageListResult struct {
	distinctMatches int
	matchedTokens   int
	totalTokens     int
	ratio           float64
	separatorCount  int
	hasCue          bool
	listLike        bool
	sample          []string
}

// detectLanguageList decides whether raw reads like a language-selector
// list. extras are caller-supplied additional names; entries outside 2..80
// characters after folding are ignored.
func detectLanguageList(raw string, extras []string) languageListResult {
	keys := builtinLanguageKeys
	if len(extras) > 0 {
		merged := make(map[string]struct{}, len(keys)+len(extras))
		for k := range keys {
			merged[k] = struct{}{}
		}
		for k := range buildLanguageKeys(validExtras(extras)) {
			merged[k] = struct{}{}
		}
		keys = merged
	}

	tokens := letterTokens(raw)
	res := languageListResult{totalTokens: len(tokens)}

	folded := make([]string, len(tokens))
	for i, t := range tokens {
		folded[i] = foldName(t)
	}

	distinct := make(map[string]struct{})
	for i := 0; i < len(folded); {
		matched := 0
		var matchedKey string
		for n := maxLanguagePhrase; n >= 1; n-- {
			if i+n > len(folded) {
				continue
			}
			key := strings.Join(folded[i:i+n], " ")
			if _, ok := keys[key]; ok {
				matched = n
				matchedKey = key
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}
		res.matchedTokens += matched
		if _, dup := distinct[matchedKey]; !dup {
			distinct[matchedKey] = struct{}{}
			if len(res.sample) < 8 {
				res.sample = append(res.sample, matchedKey)
			}
		}
		i += matched
	}
	res.distinctMatches = len(distinct)
	if res.totalTokens > 0 {
		res.ratio = float64(res.matchedTokens) / float64(res.totalTokens)
	}
	res.separatorCount = countSeparators(raw)
	res.hasCue = hasLanguageCue(raw)

	res.listLike = (res.distinctMatches >= 4 && res.matchedTokens >= 5 && res.ratio >= 0.45 &&
		(res.separatorCount >= 2 || res.ratio >= 0.7 || res.hasCue)) ||
		(res.distinctMatches >= 8 && res.matchedTokens >= 8 && res.ratio >= 0.35)
	return res
}

// letterTokens splits text into maximal runs of letters and combining
// marks.
func letterTokens(s string) []string {
	var tokens []string
	start := -1
	for i, r := range s {
		if unicode.IsLetter(r) || unicode.IsMark(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, s[start:i])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

func foldName(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

func buildLanguageKeys(names []string) map[string]struct{} {
	keys := make(map[string]struct{}, len(names))
	for _, name := range names {
		toks := letterTokens(foldName(name))
		if len(toks) == 0 || len(toks) > maxLanguagePhrase {
			continue
		}
		keys[strings.Join(toks, " ")] = struct{}{}
	}
	return keys
}

func validExtras(extras []string) []string {
	out := make([]string, 0, len(extras))
	for _, e := range extras {
		folded := foldName(e)
		n := len([]rune(folded))
		if n < 2 || n > 80 {
			continue
		}
		out = append(out, folded)
	}
	return out
}

func countSeparators(s string) int {
	count := 0
	for _, r := range s {
		if strings.ContainsRune(listSeparators, r) {
			count++
		}
	}
	return count
}

func hasLanguageCue(s string) bool {
	folded := foldName(s)
	for _, cue := range languageCues {
		if strings.Contains(folded, cue) {
			return true
		}
	}
	return false
}
