package normalize

// confusables maps Cyrillic and Greek codepoints that render like Latin
// letters to their Latin targets. The table is declared once and shared
// read-only; it deliberately covers only high-confidence homoglyphs so that
// ordinary Cyrillic or Greek prose is not rewritten wholesale.
var confusables = map[rune]rune{
	// Cyrillic lowercase
	'а': 'a', // U+0430
	'е': 'e', // U+0435
	'о': 'o', // U+043E
	'р': 'p', // U+0440
	'с': 'c', // U+0441
	'у': 'y', // U+0443
	'х': 'x', // U+0445
	'і': 'i', // U+0456
	'ј': 'j', // U+0458
	'ѕ': 's', // U+0455
	'һ': 'h', // U+04BB
	'ԁ': 'd', // U+0501
	'ԛ': 'q', // U+051B
	'ԝ': 'w', // U+051D
	'к': 'k', // U+043A
	'м': 'm', // U+043C
	'н': 'h', // U+043D
	'т': 't', // U+0442

	// Cyrillic uppercase
	'А': 'A', // U+0410
	'В': 'B', // U+0412
	'Е': 'E', // U+0415
	'К': 'K', // U+041A
	'М': 'M', // U+041C
	'Н': 'H', // U+041D
	'О': 'O', // U+041E
	'Р': 'P', // U+0420
	'С': 'C', // U+0421
	'Т': 'T', // U+0422
	'У': 'Y', // U+0423
	'Х': 'X', // U+0425
	'Ѕ': 'S', // U+0405
	'І': 'I', // U+0406
	'Ј': 'J', // U+0408
	'Ԛ': 'Q', // U+051A
	'Ԝ': 'W', // U+051C

	// Greek lowercase
	'α': 'a', // U+03B1
	'ε': 'e', // U+03B5
	'η': 'n', // U+03B7
	'ι': 'i', // U+03B9
	'κ': 'k', // U+03BA
	'ν': 'v', // U+03BD
	'ο': 'o', // U+03BF
	'ρ': 'p', // U+03C1
	'τ': 't', // U+03C4
	'υ': 'u', // U+03C5
	'χ': 'x', // U+03C7
	'ω': 'w', // U+03C9

	// Greek uppercase
	'Α': 'A', // U+0391
	'Β': 'B', // U+0392
	'Ε': 'E', // U+0395
	'Ζ': 'Z', // U+0396
	'Η': 'H', // U+0397
	'Ι': 'I', // U+0399
	'Κ': 'K', // U+039A
	'Μ': 'M', // U+039C
	'Ν': 'N', // U+039D
	'Ο': 'O', // U+039F
	'Ρ': 'P', // U+03A1
	'Τ': 'T', // U+03A4
	'Υ': 'Y', // U+03A5
	'Χ': 'X', // U+03A7
}

// ConfusableTarget returns the Latin replacement for r and whether r is a
// known confusable codepoint.
func ConfusableTarget(r rune) (rune, bool) {
	t, ok := confusables[r]
	return t, ok
}
