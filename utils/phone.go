package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is assumed for numbers written without a country code.
const DefaultRegion = "KE"

var ErrInvalidPhoneNumber = errors.New("invalid phone number")

// FormatPhoneNumber normalizes a phone number to E.164 (+2547XXXXXXXX).
// Local forms (07.., 7..), 254.. without the plus, spaces and dashes are
// accepted. An empty input returns "" and no error.
func FormatPhoneNumber(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(phone, DefaultRegion)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", ErrInvalidPhoneNumber, phone, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("%w %q", ErrInvalidPhoneNumber, phone)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// MSISDN is the form Daraja expects: E.164 without the plus.
func MSISDN(phone string) (string, error) {
	e164, err := FormatPhoneNumber(phone)
	if err != nil {
		return "", err
	}
	if e164 == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPhoneNumber)
	}
	return strings.TrimPrefix(e164, "+"), nil
}
