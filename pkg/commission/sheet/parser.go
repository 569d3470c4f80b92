/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package sheet parses per-carrier XLSX commission registers into canonical commission
// records. Column layout comes from a per-carrier configuration table with a
// keyword-based detection fallback; relevance rules are applied per carrier.
package sheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/commission/api"
	"github.com/maklerhaus/atlas/pkg/commission/normalize"
	"github.com/maklerhaus/atlas/pkg/errors"
)

var logger = log.New("sheet")

// RowError records one row that could not be parsed. The batch still commits the valid
// rows.
type RowError struct {
	Row int
	Err error
}

// Result is the outcome of parsing one carrier sheet.
type Result struct {
	Carrier string
	Sheet   string
	Rows    []api.Commission
	Errors  []RowError
}

// Parse reads a carrier commission register. Row 1 is the header; data starts at row 2.
// Unparseable rows are collected in Result.Errors and do not abort the parse.
func Parse(r io.Reader, carrier string) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.NewBadRequestf("open workbook: %s", err.Error())
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Warn("Error closing workbook", log.WithError(closeErr))
		}
	}()

	sheetName := f.GetSheetName(0)

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read sheet [%s]: %w", sheetName, err)
	}

	if len(rows) == 0 {
		return nil, errors.NewBadRequestf("sheet [%s] is empty", sheetName)
	}

	indices, err := columnIndices(carrier, rows[0])
	if err != nil {
		return nil, err
	}

	for _, required := range []Field{FieldVSNR, FieldAmount, FieldPayoutDate} {
		if _, ok := indices[required]; !ok {
			return nil, errors.NewBadRequestf(
				"sheet [%s] for carrier [%s] has no [%s] column", sheetName, carrier, required)
		}
	}

	result := &Result{Carrier: carrier, Sheet: sheetName}

	for i, row := range rows[1:] {
		sourceRow := i + 2

		if rowEmpty(row, indices) {
			continue
		}

		commission, err := parseRow(carrier, row, indices, sourceRow)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Row: sourceRow, Err: err})

			continue
		}

		result.Rows = append(result.Rows, *commission)
	}

	logger.Debug("Parsed carrier sheet", log.WithCarrier(carrier), log.WithSheetName(sheetName),
		log.WithTotal(len(result.Rows)))

	return result, nil
}

func parseRow(carrier string, row []string, indices map[Field]int, sourceRow int) (*api.Commission, error) {
	vsnr := cell(row, indices, FieldVSNR)
	if vsnr == "" {
		return nil, fmt.Errorf("missing VSNR")
	}

	amountCents, err := rowAmountCents(row, indices)
	if err != nil {
		return nil, err
	}

	payoutDate, err := normalize.Date(cell(row, indices, FieldPayoutDate))
	if err != nil {
		return nil, err
	}

	var rate float64

	if rateCell := cell(row, indices, FieldCommissionRate); rateCell != "" {
		rate, err = normalize.Rate(rateCell)
		if err != nil {
			return nil, err
		}
	}

	bookingCode := cell(row, indices, FieldBookingCode)
	conditionsCode := cell(row, indices, FieldConditionsCode)
	vsnrNormalized := normalize.VSNR(vsnr)
	kind := classifyKind(bookingCode, amountCents)

	return &api.Commission{
		VSNR:             vsnr,
		VSNRNormalized:   vsnrNormalized,
		AmountCents:      amountCents,
		Kind:             kind,
		PayoutDate:       payoutDate,
		Carrier:          carrier,
		Policyholder:     cell(row, indices, FieldPolicyholder),
		IntermediaryName: cell(row, indices, FieldIntermediary),
		MatchStatus:      api.MatchUnmatched,
		BookingCode:      strings.TrimSpace(bookingCode),
		ConditionsCode:   strings.TrimSpace(conditionsCode),
		CommissionRate:   rate,
		Relevant:         Relevant(carrier, bookingCode, rate, conditionsCode),
		RowHash:          RowHash(carrier, vsnrNormalized, amountCents, payoutDate, kind),
		SourceRow:        sourceRow,
	}, nil
}

// rowAmountCents reads the amount column, falling back to the carrier's separate
// negative-amount column when the amount cell is empty.
func rowAmountCents(row []string, indices map[Field]int) (int64, error) {
	if amountCell := cell(row, indices, FieldAmount); amountCell != "" {
		return normalize.AmountCents(amountCell)
	}

	if chargebackCell := cell(row, indices, FieldChargeback); chargebackCell != "" {
		cents, err := normalize.AmountCents(chargebackCell)
		if err != nil {
			return 0, err
		}

		if cents > 0 {
			cents = -cents
		}

		return cents, nil
	}

	return 0, fmt.Errorf("missing amount")
}

// classifyKind maps the booking code to a commission kind. A negative amount is always a
// chargeback, whatever the code says.
func classifyKind(bookingCode string, amountCents int64) api.CommissionKind {
	if amountCents < 0 {
		return api.KindChargeback
	}

	code := strings.ToUpper(strings.TrimSpace(bookingCode))

	switch {
	case code == "AP" || code == "APG" || code == "BARM":
		return api.KindInitial
	case strings.HasPrefix(code, "BP"):
		return api.KindPortfolio
	default:
		return api.KindOther
	}
}

func cell(row []string, indices map[Field]int, field Field) string {
	index, ok := indices[field]
	if !ok || index >= len(row) {
		return ""
	}

	return strings.TrimSpace(row[index])
}

func rowEmpty(row []string, indices map[Field]int) bool {
	for field := range indices {
		if cell(row, indices, field) != "" {
			return false
		}
	}

	return true
}
