package email

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Config struct {
	Addresses   []string
	SingleEmail bool
	Subject     string
}

func NewConfig(jsonData json.RawMessage) (Config, error) {
	raw := struct {
		Addresses   string `json:"addresses,omitempty" yaml:"addresses,omitempty"`
		SingleEmail bool   `json:"singleEmail,omitempty" yaml:"singleEmail,omitempty"`
		Subject     string `json:"subject,omitempty" yaml:"subject,omitempty"`
	}{}

	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal settings: %w", err)
	}
	if raw.Addresses == "" {
		return Config{}, errors.New("could not find addresses in settings")
	}

	return Config{
		Addresses:   splitEmails(raw.Addresses),
		SingleEmail: raw.SingleEmail,
		Subject:     raw.Subject,
	}, nil
}

// splitEmails accepts the separators people actually paste: commas,
// semicolons and newlines.
func splitEmails(emails string) []string {
	return strings.FieldsFunc(emails, func(r rune) bool {
		switch r {
		case ',', ';', '\n':
			return true
		}
		return false
	})
}
