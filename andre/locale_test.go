package andre

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupCountry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{input: "fr", want: "FRA", ok: true},
		{input: "JPN", want: "JPN", ok: true},
		{input: "France", want: "FRA", ok: true},
		{input: "  japan ", want: "JPN", ok: true},
		{input: "United Kingdom", want: "GBR", ok: true},
		{input: "Spain", want: "ESP", ok: true},
		{input: "fx", ok: false},
		{input: "EA", ok: false},
		{input: "Atlantis", ok: false},
		{input: "", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			code, ok := lookupCountry(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, code)
		})
	}
}

func TestCountryName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "France", countryName("FRA"))
	assert.Equal(t, "Japan", countryName("JPN"))
}

func TestLookupLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{input: "en", want: "eng", ok: true},
		{input: "English", want: "eng", ok: true},
		{input: "japanese", want: "jpn", ok: true},
		{input: "mis", want: languageUncoded, ok: true},
		{input: "Klingonese", ok: false},
		{input: "", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			code, ok := lookupLanguage(tc.input)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, code)
		})
	}
}

func TestParseLanguages(t *testing.T) {
	t.Parallel()

	got := parseLanguages("English, ja (N3), mis (Klingon), mis, Klingonese")
	assert.Equal(
		t,
		[]Language{
			{Code: "eng"},
			{Code: "jpn", Extra: "N3"},
			{Code: languageUncoded, Extra: "Klingon"},
		},
		got,
	)

	var displayed []string
	for _, l := range got {
		displayed = append(displayed, l.Display())
	}
	assert.Equal(t, []string{"English", "Japanese (N3)", "Klingon"}, displayed)
}

func TestParseProgrammingLanguages(t *testing.T) {
	t.Parallel()

	got := parseProgrammingLanguages("Go, C++ (a bit), Objective-C")
	assert.Equal(
		t,
		[]ProgrammingLanguage{
			{Name: "Go"},
			{Name: "C++", Extra: "a bit"},
			{Name: "Objective-C"},
		},
		got,
	)
}
