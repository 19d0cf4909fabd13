package validate

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"vies-gateway/internal/models"
)

// CountryCodes lists the member state prefixes the VIES service answers for.
// Greece uses EL rather than its ISO code.
var CountryCodes = []string{
	"AT", "BE", "BG", "CY", "CZ", "DE", "DK", "EE", "EL", "ES",
	"FI", "FR", "GB", "HR", "HU", "IE", "IT", "LT", "LU", "LV",
	"MT", "NL", "PL", "PT", "RO", "SE", "SI", "SK",
}

const (
	minLength = 7
	maxLength = 20
)

var (
	v           = validator.New()
	charsTag    = "alphanum"
	lengthTag   = fmt.Sprintf("min=%d,max=%d", minLength, maxLength)
	countryTag  = "oneof=" + strings.Join(sortedCodes(), " ")
	callbackTag = "required,url"
)

func sortedCodes() []string {
	out := append([]string(nil), CountryCodes...)
	sort.Strings(out)
	return out
}

// Normalize upper-cases a VAT number and drops any whitespace.
func Normalize(vatNumber string) string {
	return strings.ToUpper(strings.Join(strings.Fields(vatNumber), ""))
}

// Check applies the admission rules in order and returns the first failure.
// callbackURL is only inspected for async requests.
func Check(vatNumber string, mode models.Mode, callbackURL string) *models.ErrorResult {
	if err := v.Var(vatNumber, charsTag); err != nil {
		return models.BadRequest(models.MsgInvalidCharacters)
	}
	if err := v.Var(vatNumber, lengthTag); err != nil {
		return models.BadRequest(models.MsgInvalidLength)
	}
	if err := v.Var(vatNumber[:2], countryTag); err != nil {
		return models.BadRequest(models.MsgInvalidCountry)
	}
	if mode == models.ModeAsync && !CallbackURL(callbackURL) {
		return models.BadRequest(models.MsgInvalidCallback)
	}
	return nil
}

// CallbackURL reports whether raw is an absolute http(s) URL with a host.
func CallbackURL(raw string) bool {
	if err := v.Var(raw, callbackTag); err != nil {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	}
	return false
}

// Split separates the country prefix from the local number. The input must
// already have passed Check.
func Split(vatNumber string) (countryCode, number string) {
	return vatNumber[:2], vatNumber[2:]
}
