/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sheet

import (
	"strings"

	"github.com/maklerhaus/atlas/pkg/errors"
)

// Field names one logical column of a carrier sheet.
type Field string

// The logical columns a carrier sheet can carry.
const (
	FieldVSNR           Field = "vsnr"
	FieldAmount         Field = "amount"
	FieldBookingCode    Field = "bookingCode"
	FieldPayoutDate     Field = "payoutDate"
	FieldCommissionRate Field = "commissionRate"
	FieldPolicyholder   Field = "policyholder"
	FieldIntermediary   Field = "intermediary"
	FieldConditionsCode Field = "conditionsCode"
	FieldChargeback     Field = "chargeback"
)

// ColumnMap describes how one carrier lays out its commission register. Explicit header
// names take precedence; otherwise columns are detected from the builtin keyword sets.
type ColumnMap struct {
	Carrier string

	// Headers maps fields to the exact (case-insensitive) header text the carrier uses.
	Headers map[Field]string
}

// carrierMaps is the builtin configuration table, keyed by carrier name.
var carrierMaps = map[string]*ColumnMap{ //nolint:gochecknoglobals
	"Alte Leipziger": {
		Carrier: "Alte Leipziger",
		Headers: map[Field]string{
			FieldVSNR:           "Versicherungsschein-Nr.",
			FieldAmount:         "Provisionsbetrag",
			FieldBookingCode:    "Provisionsart",
			FieldPayoutDate:     "Valuta",
			FieldCommissionRate: "Provisionssatz",
			FieldPolicyholder:   "Versicherungsnehmer",
			FieldIntermediary:   "Vermittler",
		},
	},
	"Barmenia": {
		Carrier: "Barmenia",
		Headers: map[Field]string{
			FieldVSNR:         "VSNR",
			FieldAmount:       "Betrag",
			FieldBookingCode:  "Buchungsart",
			FieldPayoutDate:   "Buchungsdatum",
			FieldPolicyholder: "VN",
			FieldIntermediary: "Vermittler",
		},
	},
	"Continentale": {
		Carrier: "Continentale",
		Headers: map[Field]string{
			FieldVSNR:           "Vertragsnummer",
			FieldAmount:         "Courtage",
			FieldBookingCode:    "Buchungsschluessel",
			FieldPayoutDate:     "Auszahlungsdatum",
			FieldConditionsCode: "Konditionsschluessel",
			FieldPolicyholder:   "Kunde",
		},
	},
}

// fieldKeywords drives the fuzzy header detection fallback. A sheet is accepted when at
// least two distinct fields hit a keyword.
var fieldKeywords = map[Field][]string{ //nolint:gochecknoglobals
	FieldVSNR:           {"vsnr", "versicherungsschein", "vertragsnummer", "police", "policen"},
	FieldAmount:         {"betrag", "provisionsbetrag", "courtage", "provision"},
	FieldBookingCode:    {"buchungsart", "provisionsart", "buchungsschluessel", "art"},
	FieldPayoutDate:     {"datum", "valuta", "auszahlung"},
	FieldCommissionRate: {"satz", "rate"},
	FieldPolicyholder:   {"versicherungsnehmer", "kunde", "vn"},
	FieldIntermediary:   {"vermittler", "berater"},
	FieldConditionsCode: {"kondition", "bedingung"},
	FieldChargeback:     {"storno", "rueckbelastung"},
}

// minKeywordHits is the detection threshold for the fuzzy fallback.
const minKeywordHits = 2

// RegisterColumnMap adds or replaces the column map for a carrier.
func RegisterColumnMap(m *ColumnMap) {
	carrierMaps[m.Carrier] = m
}

// columnIndices resolves the header row into field positions. A configured carrier map
// is matched by exact header text; everything else falls back to keyword detection.
func columnIndices(carrier string, header []string) (map[Field]int, error) {
	if m, ok := carrierMaps[carrier]; ok {
		indices := matchHeaders(m.Headers, header)
		if len(indices) > 0 {
			return indices, nil
		}
	}

	indices := detectHeaders(header)
	if len(indices) < minKeywordHits {
		return nil, errors.NewBadRequestf(
			"unrecognized sheet layout for carrier [%s]: matched %d of %d required columns",
			carrier, len(indices), minKeywordHits)
	}

	return indices, nil
}

func matchHeaders(headers map[Field]string, header []string) map[Field]int {
	indices := make(map[Field]int)

	for field, name := range headers {
		for i, cell := range header {
			if strings.EqualFold(strings.TrimSpace(cell), name) {
				indices[field] = i

				break
			}
		}
	}

	return indices
}

// detectionOrder resolves the more specific fields first so that a header like
// "Provisionsart" is claimed by the booking code, not by the amount keyword "provision".
var detectionOrder = []Field{ //nolint:gochecknoglobals
	FieldBookingCode, FieldCommissionRate, FieldConditionsCode, FieldChargeback,
	FieldPayoutDate, FieldVSNR, FieldIntermediary, FieldPolicyholder, FieldAmount,
}

func detectHeaders(header []string) map[Field]int {
	indices := make(map[Field]int)
	claimed := make(map[int]bool)

	for _, field := range detectionOrder {
		for i, cell := range header {
			if claimed[i] {
				continue
			}

			normalized := normalizeHeader(cell)
			if normalized == "" {
				continue
			}

			if matchesKeyword(normalized, fieldKeywords[field]) {
				indices[field] = i
				claimed[i] = true

				break
			}
		}
	}

	return indices
}

func matchesKeyword(header string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(header, keyword) {
			return true
		}
	}

	return false
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	return strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss", "-", "", ".", "").Replace(s)
}
