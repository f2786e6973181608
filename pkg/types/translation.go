package types

import "strings"

// Supported locales
const (
	LocaleKz = "kz"
	LocaleRu = "ru"
	LocaleEn = "en"
)

// Translation holds display text in every supported locale
type Translation struct {
	Kz string `json:"kz,omitempty"`
	Ru string `json:"ru,omitempty"`
	En string `json:"en,omitempty"`
}

// NewTranslation builds a translation, requiring at least one non-blank value
func NewTranslation(kz, ru, en string) (Translation, error) {
	t := Translation{
		Kz: strings.TrimSpace(kz),
		Ru: strings.TrimSpace(ru),
		En: strings.TrimSpace(en),
	}
	if err := t.Validate(); err != nil {
		return Translation{}, err
	}
	return t, nil
}

// Validate checks that at least one locale is filled in
func (t Translation) Validate() error {
	if t.IsEmpty() {
		return validationError("at least one translation must be provided")
	}
	return nil
}

// IsEmpty reports whether every locale is blank
func (t Translation) IsEmpty() bool {
	return strings.TrimSpace(t.Kz) == "" && strings.TrimSpace(t.Ru) == "" && strings.TrimSpace(t.En) == ""
}

// Display returns the text for locale, falling back en -> ru -> kz
func (t Translation) Display(locale string) string {
	switch strings.ToLower(locale) {
	case LocaleKz:
		if t.Kz != "" {
			return t.Kz
		}
	case LocaleRu:
		if t.Ru != "" {
			return t.Ru
		}
	case LocaleEn:
		if t.En != "" {
			return t.En
		}
	}

	for _, s := range []string{t.En, t.Ru, t.Kz} {
		if s != "" {
			return s
		}
	}
	return ""
}

// ValidLocale reports whether locale is one of the supported codes
func ValidLocale(locale string) bool {
	switch strings.ToLower(locale) {
	case LocaleKz, LocaleRu, LocaleEn:
		return true
	default:
		return false
	}
}
