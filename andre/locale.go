package andre

import (
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// languageUncoded is the ISO 639 code for languages without a code. It
// is only kept when the language is named in the extra.
const languageUncoded = "mis"

var (
	regionNames   = display.English.Regions()
	languageNames = display.English.Languages()

	localeIndexOnce sync.Once
	countryIndex    map[string]language.Region
	languageIndex   map[string]language.Base
)

const letters = "abcdefghijklmnopqrstuvwxyz"

// buildLocaleIndex maps lowercase english names to every known country
// and language
func buildLocaleIndex() {
	countryIndex = map[string]language.Region{}
	languageIndex = map[string]language.Base{}

	for _, a := range letters {
		for _, b := range letters {
			code := string([]rune{a, b})
			if r, ok := parseCountry(code); ok {
				name := strings.ToLower(regionNames.Name(r))
				if _, exists := countryIndex[name]; name != "" && !exists {
					countryIndex[name] = r
				}
			}
			indexLanguage(code)
			for _, c := range letters {
				indexLanguage(code + string(c))
			}
		}
	}
}

// reservedRegions are exceptionally reserved codes, which share a name
// with a real country or have no alpha-3 code of their own
var reservedRegions = map[string]bool{
	"CP": true, "DG": true, "EA": true, "FX": true, "IC": true,
}

// parseCountry parses an alpha-2 or alpha-3 code, rejecting aliases
// and reserved regions
func parseCountry(code string) (language.Region, bool) {
	r, err := language.ParseRegion(code)
	if err != nil || !r.IsCountry() {
		return r, false
	}
	if !strings.EqualFold(r.String(), code) && !strings.EqualFold(r.ISO3(), code) {
		return r, false
	}
	if reservedRegions[r.String()] || r.ISO3() == "ZZZ" {
		return r, false
	}
	return r, true
}

func indexLanguage(code string) {
	base, err := language.ParseBase(code)
	if err != nil {
		return
	}
	name := strings.ToLower(languageNames.Name(base))
	if name == "" {
		return
	}
	if _, exists := languageIndex[name]; !exists {
		languageIndex[name] = base
	}
}

// lookupCountry finds a country by its english name or its ISO 3166
// alpha-2/alpha-3 code, and returns its alpha-3 code
func lookupCountry(s string) (code string, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	if len(s) <= 3 {
		if r, valid := parseCountry(s); valid {
			return r.ISO3(), true
		}
	}
	localeIndexOnce.Do(buildLocaleIndex)
	if r, found := countryIndex[s]; found {
		return r.ISO3(), true
	}
	return "", false
}

// countryName is the english name of an alpha-3 country code
func countryName(code string) string {
	r, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	if name := regionNames.Name(r); name != "" {
		return name
	}
	return code
}

// lookupLanguage finds a language by its english name or its ISO 639
// code, and returns its ISO 639-3 code
func lookupLanguage(s string) (code string, ok bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	if s == languageUncoded {
		return languageUncoded, true
	}
	if len(s) <= 3 {
		if base, err := language.ParseBase(s); err == nil && languageNames.Name(base) != "" {
			return base.ISO3(), true
		}
	}
	localeIndexOnce.Do(buildLocaleIndex)
	if base, found := languageIndex[s]; found {
		return base.ISO3(), true
	}
	return "", false
}

// languageName is the english name of an ISO 639 code
func languageName(code string) string {
	if code == languageUncoded {
		return "Uncoded languages"
	}
	base, err := language.ParseBase(code)
	if err != nil {
		return code
	}
	if name := languageNames.Name(base); name != "" {
		return name
	}
	return code
}

// Display renders the language as "name (extra)". Uncoded languages
// are named by their extra.
func (l Language) Display() string {
	if l.Extra == "" {
		return languageName(l.Code)
	}
	if l.Code == languageUncoded {
		return l.Extra
	}
	return languageName(l.Code) + " (" + l.Extra + ")"
}

var (
	spokenLanguagePattern = regexp.MustCompile(`^((?:\w+ *)+) *(?:\(([^)]+)\))*`)
	progLanguagePattern   = regexp.MustCompile(`^((?:[^ ()]+ *)+) *(?:\(([^)]+)\))*`)
)

// parseLanguages reads a comma-separated "name or code (extra)" list.
// Unknown languages are dropped, and so is "mis" without an extra.
func parseLanguages(s string) []Language {
	var rv []Language
	for _, part := range strings.Split(s, ",") {
		m := spokenLanguagePattern.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			continue
		}
		code, ok := lookupLanguage(m[1])
		if !ok {
			continue
		}
		extra := strings.TrimSpace(m[2])
		if code == languageUncoded && extra == "" {
			continue
		}
		rv = append(rv, Language{Code: code, Extra: extra})
	}
	return rv
}

// parseProgrammingLanguages reads a comma-separated "name (extra)" list
func parseProgrammingLanguages(s string) []ProgrammingLanguage {
	var rv []ProgrammingLanguage
	for _, part := range strings.Split(s, ",") {
		m := progLanguagePattern.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			continue
		}
		rv = append(
			rv, ProgrammingLanguage{
				Name:  strings.TrimSpace(m[1]),
				Extra: strings.TrimSpace(m[2]),
			},
		)
	}
	return rv
}
