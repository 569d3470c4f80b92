/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountCents parses a monetary cell into integer cents. German ("1.234,56") and English
// ("1234.56") decimal formats and plain Excel numerics are accepted; sub-cent precision
// is rounded half to even.
func AmountCents(s string) (int64, error) {
	d, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}

	return d.Shift(2).RoundBank(0).IntPart(), nil
}

// Rate parses a percentage cell. A trailing percent sign is tolerated.
func Rate(s string) (float64, error) {
	d, err := parseDecimal(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if err != nil {
		return 0, err
	}

	return d.InexactFloat64(), nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty numeric value")
	}

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")

	switch {
	case hasComma && hasDot:
		// German format with thousands separators: 1.234,56.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case hasComma:
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric value [%s]: %w", s, err)
	}

	return d, nil
}

// excelEpoch is day zero of Excel serial dates.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC) //nolint:gochecknoglobals

var dateLayouts = []string{ //nolint:gochecknoglobals
	"02.01.2006",
	"02.01.06",
	"2006-01-02",
	"02/01/2006",
}

// Date parses a date cell in any of the accepted textual formats or as an Excel serial
// number.
func Date(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 0 {
		days := int(serial)

		return excelEpoch.AddDate(0, 0, days), nil
	}

	return time.Time{}, fmt.Errorf("unparseable date value [%s]", s)
}
