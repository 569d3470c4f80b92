/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sheet

import (
	"strings"
)

// RelevanceRule decides whether a row counts towards settlements or is informational
// only. Rules are pure functions of the row's carrier-facing fields so relevance can be
// recomputed at any time.
type RelevanceRule func(bookingCode string, commissionRate float64, conditionsCode string) bool

// relevanceRules is the per-carrier rule table. Carriers without an entry use
// defaultRelevance.
var relevanceRules = map[string]RelevanceRule{ //nolint:gochecknoglobals
	// Relevant only from a 20 percent commission rate upwards.
	"Alte Leipziger": func(_ string, rate float64, _ string) bool {
		return rate >= 20.0
	},

	// Relevant booking codes only; an empty code is informational.
	"Barmenia": func(code string, _ float64, _ string) bool {
		code = strings.ToUpper(strings.TrimSpace(code))

		return code == "BARM" || code == "APG"
	},

	// "dy" bookings are never settlement-relevant, independent of the conditions code.
	// Everything else needs one of the contracted conditions codes.
	"Continentale": func(code string, _ float64, conditions string) bool {
		if strings.EqualFold(strings.TrimSpace(code), "dy") {
			return false
		}

		switch strings.TrimSpace(conditions) {
		case "15", "35", "50":
			return true
		default:
			return false
		}
	},
}

func defaultRelevance(string, float64, string) bool {
	return true
}

// RegisterRelevanceRule adds or replaces the relevance rule for a carrier.
func RegisterRelevanceRule(carrier string, rule RelevanceRule) {
	relevanceRules[carrier] = rule
}

// Relevant applies the carrier's relevance rule to one row.
func Relevant(carrier, bookingCode string, commissionRate float64, conditionsCode string) bool {
	rule, ok := relevanceRules[carrier]
	if !ok {
		rule = defaultRelevance
	}

	return rule(bookingCode, commissionRate, conditionsCode)
}
