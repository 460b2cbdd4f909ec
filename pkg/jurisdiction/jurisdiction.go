// Package jurisdiction classifies destination countries under the GDPR
// cross-border transfer regime (Art. 44-49).
//
// The membership tables are compile-time constants; regulatory updates ship
// as code changes.
package jurisdiction

import "strings"

// Status is the transfer classification of a destination country.
type Status string

const (
	StatusEUEEA       Status = "eu_eea"
	StatusAdequate    Status = "adequate_protection"
	StatusSCCRequired Status = "scc_required"
	StatusBlocked     Status = "blocked"
	StatusUnknown     Status = "unknown"
)

var euEEA = []string{
	"AT", "BE", "BG", "HR", "CY", "CZ", "DK", "EE", "FI", "FR", "DE", "GR", "HU", "IE", "IT",
	"LV", "LT", "LU", "MT", "NL", "PL", "PT", "RO", "SK", "SI", "ES", "SE", "IS", "LI", "NO",
}

var adequate = []string{
	"AD", "AR", "CA", "FO", "GG", "IL", "IM", "JP", "JE", "NZ", "KR", "GB", "UY", "CH",
}

var sccRequired = []string{"US", "AU", "BR", "MX", "SG", "ZA"}

var blocked = []string{"CN", "RU", "KP", "IR", "SY", "VE", "BY"}

var statusByCode = buildIndex()

func buildIndex() map[string]Status {
	idx := make(map[string]Status, len(euEEA)+len(adequate)+len(sccRequired)+len(blocked))
	for _, c := range euEEA {
		idx[c] = StatusEUEEA
	}
	for _, c := range adequate {
		idx[c] = StatusAdequate
	}
	for _, c := range sccRequired {
		idx[c] = StatusSCCRequired
	}
	for _, c := range blocked {
		idx[c] = StatusBlocked
	}
	return idx
}

// Classify maps a two-letter country code to its transfer status.
// Input is case-insensitive; empty or unrecognized codes are unknown.
func Classify(code string) Status {
	if s, ok := statusByCode[strings.ToUpper(code)]; ok {
		return s
	}
	return StatusUnknown
}

var displayNames = map[string]string{
	"US": "United States", "CN": "China", "RU": "Russia", "KP": "North Korea",
	"IR": "Iran", "SY": "Syria", "VE": "Venezuela", "BY": "Belarus",
	"GB": "United Kingdom", "JP": "Japan", "KR": "South Korea", "AU": "Australia",
	"BR": "Brazil", "MX": "Mexico", "SG": "Singapore", "ZA": "South Africa",
	"CA": "Canada", "IL": "Israel", "NZ": "New Zealand", "DE": "Germany",
	"FR": "France", "NL": "Netherlands", "BE": "Belgium", "AT": "Austria",
	"IT": "Italy", "ES": "Spain", "PT": "Portugal", "SE": "Sweden",
	"NO": "Norway", "DK": "Denmark", "FI": "Finland", "PL": "Poland",
	"CZ": "Czech Republic", "IE": "Ireland", "CH": "Switzerland", "GR": "Greece",
	"RO": "Romania", "HU": "Hungary", "BG": "Bulgaria", "HR": "Croatia",
	"SK": "Slovakia", "SI": "Slovenia", "LT": "Lithuania", "LV": "Latvia",
	"EE": "Estonia", "LU": "Luxembourg", "MT": "Malta", "CY": "Cyprus",
	"IS": "Iceland", "LI": "Liechtenstein", "AD": "Andorra", "AR": "Argentina",
	"FO": "Faroe Islands", "GG": "Guernsey", "IM": "Isle of Man", "JE": "Jersey",
	"UY": "Uruguay",
}

// CountryName returns the display name for well-known codes, falling back
// to the (uppercased) code itself.
func CountryName(code string) string {
	upper := strings.ToUpper(code)
	if name, ok := displayNames[upper]; ok {
		return name
	}
	return upper
}

// Country is one classified country entry for the countries listing.
type Country struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// All returns every country in the classification tables, grouped by status
// in table order.
func All() []Country {
	out := make([]Country, 0, len(statusByCode))
	appendGroup := func(codes []string, status Status) {
		for _, c := range codes {
			out = append(out, Country{Code: c, Name: CountryName(c), Status: status})
		}
	}
	appendGroup(euEEA, StatusEUEEA)
	appendGroup(adequate, StatusAdequate)
	appendGroup(sccRequired, StatusSCCRequired)
	appendGroup(blocked, StatusBlocked)
	return out
}
