/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package xempus reads the broker portal's contract export ("Beratungen" sheet) into a
// canonical contract stream. Columns are detected by header keywords since the portal
// reorders them between releases.
package xempus

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

var logger = log.New("xempus")

const sheetBeratungen = "Beratungen"

type column int

const (
	colVSNR column = iota
	colPortalID
	colAdvisor
	colStatus
	colPolicyholder
	colCarrier
	colProduct
	colPremium
	colInception
)

var columnKeywords = map[column][]string{ //nolint:gochecknoglobals
	colVSNR:         {"vsnr", "versicherungsschein", "vertragsnummer"},
	colPortalID:     {"beratungsid", "vorgangsnummer", "xempusid"},
	colAdvisor:      {"berater", "vermittler"},
	colStatus:       {"status"},
	colPolicyholder: {"arbeitnehmer", "versicherungsnehmer", "kunde"},
	colCarrier:      {"versicherer", "gesellschaft"},
	colProduct:      {"produkt", "tarif", "sparte"},
	colPremium:      {"beitrag", "praemie"},
	colInception:    {"beginn"},
}

// statusMap translates the portal's consultation status into a contract status. The
// mapping is total: anything unknown counts as open.
var statusMap = map[string]api.ContractStatus{ //nolint:gochecknoglobals
	"abgeschlossen": api.ContractClosed,
	"beantragt":     api.ContractApplied,
	"offen":         api.ContractOpen,
	"in beratung":   api.ContractOpen,
	"storniert":     api.ContractCancelled,
	"abgelehnt":     api.ContractCancelled,
}

// statusSkipped marks rows that never become contracts.
const statusSkipped = "nicht gewuenscht"

// RowError records one export row that could not be read.
type RowError struct {
	Row int
	Err error
}

// ContractRow is one contract from the export together with fields that are resolved
// later in the import pipeline.
type ContractRow struct {
	Contract api.Contract

	// Advisor is the consultant's display name as the portal exports it. The importer
	// resolves it to an employee id.
	Advisor string

	SourceRow int
}

// Result is the outcome of parsing one portal export.
type Result struct {
	Sheet     string
	Contracts []ContractRow
	Skipped   int
	Errors    []RowError
}

// Parse reads a portal contract export. The "Beratungen" sheet is used if present,
// otherwise the first sheet.
func Parse(r io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.NewBadRequestf("open workbook: %s", err.Error())
	}

	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			logger.Warn("Error closing workbook", log.WithError(closeErr))
		}
	}()

	sheetName := pickSheet(f)

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("read sheet [%s]: %w", sheetName, err)
	}

	if len(rows) == 0 {
		return nil, errors.NewBadRequestf("sheet [%s] is empty", sheetName)
	}

	indices := detectColumns(rows[0])

	for _, required := range []column{colVSNR, colStatus} {
		if _, ok := indices[required]; !ok {
			return nil, errors.NewBadRequestf("sheet [%s] is not a recognizable contract export", sheetName)
		}
	}

	result := &Result{Sheet: sheetName}

	for i, row := range rows[1:] {
		sourceRow := i + 2

		if rowEmpty(row, indices) {
			continue
		}

		contract, skipped, err := parseRow(row, indices, sourceRow)

		switch {
		case err != nil:
			result.Errors = append(result.Errors, RowError{Row: sourceRow, Err: err})
		case skipped:
			result.Skipped++
		default:
			result.Contracts = append(result.Contracts, *contract)
		}
	}

	logger.Debug("Parsed portal contract export", log.WithSheetName(sheetName),
		log.WithTotal(len(result.Contracts)))

	return result, nil
}

func parseRow(row []string, indices map[column]int, sourceRow int) (*ContractRow, bool, error) {
	status, skipped := mapStatus(cell(row, indices, colStatus))
	if skipped {
		return nil, true, nil
	}

	vsnr := cell(row, indices, colVSNR)
	portalID := cell(row, indices, colPortalID)

	if vsnr == "" && portalID == "" {
		return nil, false, fmt.Errorf("row has neither VSNR nor portal id")
	}

	contract := api.Contract{
		VSNR:         vsnr,
		Carrier:      cell(row, indices, colCarrier),
		Policyholder: cell(row, indices, colPolicyholder),
		Branch:       cell(row, indices, colProduct),
		Status:       status,
		Origin:       api.OriginXempus,
		XempusID:     portalID,
	}

	if vsnr != "" {
		contract.VSNRNormalized = normalize.VSNR(vsnr)
	}

	if premiumCell := cell(row, indices, colPremium); premiumCell != "" {
		cents, err := normalize.AmountCents(premiumCell)
		if err != nil {
			return nil, false, err
		}

		contract.PremiumCents = cents
	}

	if inceptionCell := cell(row, indices, colInception); inceptionCell != "" {
		inception, err := normalize.Date(inceptionCell)
		if err != nil {
			return nil, false, err
		}

		contract.Inception = inception
	}

	return &ContractRow{
		Contract:  contract,
		Advisor:   cell(row, indices, colAdvisor),
		SourceRow: sourceRow,
	}, false, nil
}

// mapStatus returns the contract status for a portal status cell, or skipped=true for
// rows that must not become contracts.
func mapStatus(s string) (api.ContractStatus, bool) {
	normalized := normalizeCell(s)

	if normalized == statusSkipped {
		return "", true
	}

	if status, ok := statusMap[normalized]; ok {
		return status, false
	}

	return api.ContractOpen, false
}

func pickSheet(f *excelize.File) string {
	for _, name := range f.GetSheetList() {
		if strings.EqualFold(name, sheetBeratungen) {
			return name
		}
	}

	return f.GetSheetName(0)
}

func detectColumns(header []string) map[column]int {
	indices := make(map[column]int)
	claimed := make(map[int]bool)

	for col := colVSNR; col <= colInception; col++ {
		for i, headerCell := range header {
			if claimed[i] {
				continue
			}

			if matchesKeyword(normalizeCell(headerCell), columnKeywords[col]) {
				indices[col] = i
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

func normalizeCell(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	return strings.NewReplacer("ä", "ae", "ö", "oe", "ü", "ue", "ß", "ss", "-", "", ".", "").Replace(s)
}

func cell(row []string, indices map[column]int, col column) string {
	index, ok := indices[col]
	if !ok || index >= len(row) {
		return ""
	}

	return strings.TrimSpace(row[index])
}

func rowEmpty(row []string, indices map[column]int) bool {
	for col := range indices {
		if cell(row, indices, col) != "" {
			return false
		}
	}

	return true
}
