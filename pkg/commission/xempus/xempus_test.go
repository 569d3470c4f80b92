/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package xempus

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/maklerhaus/atlas/pkg/commission/api"
	"github.com/maklerhaus/atlas/pkg/errors"
)

func buildExport(t *testing.T, sheet string, rows [][]interface{}) *bytes.Reader {
	t.Helper()

	f := excelize.NewFile()

	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
		require.NoError(t, f.DeleteSheet("Sheet1"))
	}

	for i, row := range rows {
		for j, value := range row {
			cellName, err := excelize.CoordinatesToCellName(j+1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cellName, value))
		}
	}

	var buf bytes.Buffer

	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	return bytes.NewReader(buf.Bytes())
}

func TestParseExport(t *testing.T) {
	export := buildExport(t, "Beratungen", [][]interface{}{
		{"Beratungs-ID", "VSNR", "Arbeitnehmer", "Versicherer", "Produkt", "Beitrag", "Beginn", "Berater", "Status"},
		{"X-100", "12-345", "Muster, Max", "Alte Leipziger", "bAV Direktversicherung", "100,00", "01.03.2025", "Weiss, Hans", "abgeschlossen"},
		{"X-101", "", "Beispiel, Erika", "Barmenia", "bAV", "", "", "Weiss, Hans", "beantragt"},
		{"X-102", "678", "Dritte, Person", "Continentale", "bAV", "50,00", "01.04.2025", "Kurz, Eva", "nicht gewünscht"},
		{"X-103", "999", "Vierte, Person", "Barmenia", "bAV", "", "", "Kurz, Eva", "Rückfrage offen"},
	})

	result, err := Parse(export)
	require.NoError(t, err)
	require.Equal(t, "Beratungen", result.Sheet)
	require.Empty(t, result.Errors)
	require.Equal(t, 1, result.Skipped)
	require.Len(t, result.Contracts, 3)

	first := result.Contracts[0]
	require.Equal(t, "12-345", first.Contract.VSNR)
	require.Equal(t, "12345", first.Contract.VSNRNormalized)
	require.Equal(t, "Alte Leipziger", first.Contract.Carrier)
	require.Equal(t, "Muster, Max", first.Contract.Policyholder)
	require.Equal(t, "bAV Direktversicherung", first.Contract.Branch)
	require.EqualValues(t, 10000, first.Contract.PremiumCents)
	require.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), first.Contract.Inception)
	require.Equal(t, api.ContractClosed, first.Contract.Status)
	require.Equal(t, api.OriginXempus, first.Contract.Origin)
	require.Equal(t, "X-100", first.Contract.XempusID)
	require.Equal(t, "Weiss, Hans", first.Advisor)
	require.Equal(t, 2, first.SourceRow)

	// VSNR missing but the portal id is kept as the contract's origin id.
	second := result.Contracts[1]
	require.Empty(t, second.Contract.VSNR)
	require.Empty(t, second.Contract.VSNRNormalized)
	require.Equal(t, "X-101", second.Contract.XempusID)
	require.Equal(t, api.ContractApplied, second.Contract.Status)

	// Unknown status falls back to open.
	require.Equal(t, api.ContractOpen, result.Contracts[2].Contract.Status)
}

func TestParseFallsBackToFirstSheet(t *testing.T) {
	export := buildExport(t, "Export 2025", [][]interface{}{
		{"VSNR", "Berater", "Status"},
		{"123", "Weiss, Hans", "offen"},
	})

	result, err := Parse(export)
	require.NoError(t, err)
	require.Equal(t, "Export 2025", result.Sheet)
	require.Len(t, result.Contracts, 1)
	require.Equal(t, api.ContractOpen, result.Contracts[0].Contract.Status)
}

func TestParseRowWithoutIdentity(t *testing.T) {
	export := buildExport(t, "Beratungen", [][]interface{}{
		{"Beratungs-ID", "VSNR", "Berater", "Status"},
		{"", "", "Weiss, Hans", "offen"},
		{"X-200", "456", "Weiss, Hans", "offen"},
	})

	result, err := Parse(export)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	require.Equal(t, 2, result.Errors[0].Row)
	require.Len(t, result.Contracts, 1)
}

func TestParseUnrecognizedExport(t *testing.T) {
	export := buildExport(t, "Beratungen", [][]interface{}{
		{"Spalte1", "Spalte2"},
		{"a", "b"},
	})

	_, err := Parse(export)
	require.Error(t, err)
	require.True(t, errors.IsBadRequest(err))
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		in       string
		expected api.ContractStatus
		skipped  bool
	}{
		{"abgeschlossen", api.ContractClosed, false},
		{"Abgeschlossen", api.ContractClosed, false},
		{"beantragt", api.ContractApplied, false},
		{"offen", api.ContractOpen, false},
		{"in Beratung", api.ContractOpen, false},
		{"storniert", api.ContractCancelled, false},
		{"abgelehnt", api.ContractCancelled, false},
		{"nicht gewünscht", "", true},
		{"nicht gewuenscht", "", true},
		{"irgendwas Neues", api.ContractOpen, false},
	}

	for _, test := range tests {
		status, skipped := mapStatus(test.in)
		require.Equal(t, test.skipped, skipped, "mapStatus(%q)", test.in)
		require.Equal(t, test.expected, status, "mapStatus(%q)", test.in)
	}
}
