package detect

import (
	"net/mail"
	"strings"

	"github.com/cloudacy/barcode-scanner/pkg/types"
)

// Value types reported with typed code events
const (
	ValueUnknown = "unknown"
	ValueContact = "contact"
	ValueEmail   = "email"
	ValueISBN    = "isbn"
	ValuePhone   = "phone"
	ValueProduct = "product"
	ValueSMS     = "sms"
	ValueText    = "text"
	ValueURL     = "url"
	ValueWiFi    = "wifi"
	ValueGeo     = "geo"
	ValueEvent   = "event"
	ValueLicense = "license"
)

var prefixes = []struct {
	prefix string
	kind   string
}{
	{"http://", ValueURL},
	{"https://", ValueURL},
	{"urlto:", ValueURL},
	{"mailto:", ValueEmail},
	{"matmsg:", ValueEmail},
	{"tel:", ValuePhone},
	{"sms:", ValueSMS},
	{"smsto:", ValueSMS},
	{"mms:", ValueSMS},
	{"wifi:", ValueWiFi},
	{"geo:", ValueGeo},
	{"begin:vcard", ValueContact},
	{"mecard:", ValueContact},
	{"begin:vevent", ValueEvent},
	{"begin:vcalendar", ValueEvent},
}

// Classify guesses what kind of payload a decoded value carries
func Classify(format types.Symbology, value string) string {
	if value == "" {
		return ValueUnknown
	}

	switch format {
	case types.SymbologyEAN13:
		if strings.HasPrefix(value, "978") || strings.HasPrefix(value, "979") {
			return ValueISBN
		}
		return ValueProduct
	case types.SymbologyEAN8, types.SymbologyUPCA, types.SymbologyUPCE:
		return ValueProduct
	}

	// AAMVA driver license header
	if strings.HasPrefix(value, "@\n") && strings.Contains(value, "ANSI ") {
		return ValueLicense
	}

	lower := strings.ToLower(strings.TrimSpace(value))
	for _, p := range prefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.kind
		}
	}

	if !strings.ContainsAny(lower, " \n") && strings.Contains(lower, "@") {
		if _, err := mail.ParseAddress(value); err == nil {
			return ValueEmail
		}
	}
	return ValueText
}
