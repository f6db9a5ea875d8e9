package form

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// commonVariations lists alternative spellings that language models commonly
// use for contact-form fields, keyed by the lowercased canonical field name.
var commonVariations = map[string][]string{
	"firstname":   {"firstName", "first_name", "fname"},
	"lastname":    {"lastName", "last_name", "lname"},
	"email":       {"emailAddress", "email_address"},
	"phone":       {"phoneNumber", "phone_number", "telephone", "tel"},
	"dateofbirth": {"dob", "birthDate", "birth_date"},
	"street":      {"streetAddress", "street_address", "address1"},
	"city":        {"cityName", "city_name"},
	"state":       {"stateName", "state_name", "province"},
	"zipcode":     {"zip", "postalCode", "postal_code", "zipCode"},
}

// Variations returns the alternative keys tried for a field called name when
// no exact match exists, in lookup order: table entries first, then the
// capitalized form, the snake_case form and the camelCase form.
func Variations(name string) []string {
	var out []string
	out = append(out, commonVariations[strings.ToLower(name)]...)
	return append(out,
		capitalize(name),
		camelToSnake(name),
		snakeToCamel(name),
	)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// camelToSnake prefixes every ASCII capital with an underscore and lowercases
// the result: "firstName" becomes "first_name".
func camelToSnake(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return strings.ToLower(b.String())
}

// snakeToCamel upper-cases every lowercase ASCII letter that follows an
// underscore and drops the underscore: "first_name" becomes "firstName".
func snakeToCamel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' && i+1 < len(s) && s[i+1] >= 'a' && s[i+1] <= 'z' {
			b.WriteByte(s[i+1] - 'a' + 'A')
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
