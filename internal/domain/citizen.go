package domain

import (
	"strings"
	"time"
	"unicode"
)

// Citizen is a person registered at the reception desk.
type Citizen struct {
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name"`
	Document     string    `json:"document"`
	Preferential bool      `json:"preferential"`
	Phone        string    `json:"phone,omitempty"`
	PostalCode   string    `json:"postal_code,omitempty"`
	Street       string    `json:"street,omitempty"`
	Number       string    `json:"number,omitempty"`
	District     string    `json:"district,omitempty"`
	City         string    `json:"city,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NormalizeDocument strips the punctuation people type into document numbers.
func NormalizeDocument(doc string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(doc) {
		switch {
		case r == '.' || r == '-':
		case unicode.IsSpace(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePostalCode keeps at most eight digits.
func NormalizePostalCode(cep string) string {
	var b strings.Builder
	for _, r := range cep {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			if b.Len() == 8 {
				break
			}
		}
	}
	return b.String()
}
