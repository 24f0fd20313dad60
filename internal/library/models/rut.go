package models

import (
	"regexp"
	"strings"

	dErrors "biblio/pkg/domain-errors"
)

var rutPattern = regexp.MustCompile(`^\d{7,8}[0-9Kk]$`)

// ParseRUT validates a Chilean RUT (with or without dots and dash) and
// returns it in canonical "digits-dv" form. The check digit uses the
// standard modulo-11 scheme.
func ParseRUT(rut string) (string, error) {
	clean := strings.NewReplacer(".", "", "-", "").Replace(rut)
	if !rutPattern.MatchString(clean) {
		return "", dErrors.New(dErrors.CodeValidation, "invalid RUT format")
	}

	digits := clean[:len(clean)-1]
	dv := strings.ToUpper(clean[len(clean)-1:])

	sum := 0
	factor := 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * factor
		if factor < 7 {
			factor++
		} else {
			factor = 2
		}
	}

	expected := ""
	switch d := 11 - sum%11; d {
	case 11:
		expected = "0"
	case 10:
		expected = "K"
	default:
		expected = string(rune('0' + d))
	}

	if dv != expected {
		return "", dErrors.New(dErrors.CodeValidation, "invalid RUT check digit")
	}
	return digits + "-" + dv, nil
}
