// Package locale maps system locale strings onto the supported app languages.
package locale

import (
	"strings"

	"golang.org/x/text/language"

	"pillhelper/internal/domain"
)

// Fallback is used when the system locale is missing, unparsable or unsupported.
const Fallback = domain.LanguageTraditionalChinese

// Detect resolves a POSIX locale ("zh_HK.UTF-8") or BCP 47 tag ("zh-Hant") to an app language.
// Chinese with a traditional script (Hong Kong, Taiwan, Macau, Cantonese) maps to zh-TW,
// other Chinese to zh-CN, English to en.
func Detect(raw string) domain.Language {
	if lang := domain.Language(raw); lang.Valid() {
		return lang
	}

	tag, err := language.Parse(normalize(raw))
	if err != nil {
		return Fallback
	}

	base, _ := tag.Base()
	switch base.String() {
	case "yue":
		return domain.LanguageTraditionalChinese
	case "zh":
		script, _ := tag.Script()
		if script.String() == "Hant" {
			return domain.LanguageTraditionalChinese
		}
		return domain.LanguageSimplifiedChinese
	case "en":
		return domain.LanguageEnglish
	default:
		return Fallback
	}
}

func normalize(raw string) string {
	value := strings.TrimSpace(raw)
	if i := strings.IndexAny(value, ".@"); i >= 0 {
		value = value[:i]
	}
	// LANGUAGE may hold a colon separated preference list.
	if i := strings.IndexByte(value, ':'); i >= 0 {
		value = value[:i]
	}
	return strings.ReplaceAll(value, "_", "-")
}
