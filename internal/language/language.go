// Package language holds the static table of conversation languages.
package language

// Definition pairs a locale code (e.g. "de-DE") with its display name.
type Definition struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var supported = []Definition{
	{Code: "de-DE", Name: "German (Germany)"},
	{Code: "de-CH", Name: "German (Switzerland)"},
	{Code: "en-US", Name: "English (US)"},
}

// All returns the supported languages in display order.
func All() []Definition {
	out := make([]Definition, len(supported))
	copy(out, supported)
	return out
}

// Lookup finds a language by its exact locale code.
func Lookup(code string) (Definition, bool) {
	for _, d := range supported {
		if d.Code == code {
			return d, true
		}
	}
	return Definition{}, false
}

// Default returns the language for code, or the first supported language
// when code is unknown.
func Default(code string) Definition {
	if d, ok := Lookup(code); ok {
		return d
	}
	return supported[0]
}
