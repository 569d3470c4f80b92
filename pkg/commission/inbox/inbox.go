/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package inbox imports spreadsheet files dropped into a watched directory. Operators
// (or a nightly export job) place carrier statements under <dir>/<carrier>/ and portal
// contract exports under <dir>/xempus/. Processed files are moved to a processed/
// subdirectory, failed ones to failed/, so a file is never imported twice.
package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/commission/importer"
)

var logger = log.New("commission-inbox")

const (
	// ContractsDir is the subdirectory holding portal contract exports.
	ContractsDir = "xempus"

	processedDir = "processed"
	failedDir    = "failed"

	importerName = "inbox"
)

type sheetImporter interface {
	ImportSheet(ctx context.Context, req *importer.Request) (*importer.Result, error)
	ImportContracts(ctx context.Context, req *importer.ContractImportRequest) (*importer.ContractImportResult, error)
}

// Service scans a directory tree for spreadsheet files and feeds them to the importer.
type Service struct {
	dir      string
	importer sheetImporter
}

// New returns a new inbox over the given directory.
func New(dir string, i sheetImporter) *Service {
	return &Service{dir: dir, importer: i}
}

// Scan walks the inbox once and imports every spreadsheet it finds. The first path
// element below the inbox root names the carrier; files under the xempus directory are
// imported as contract exports. Files that cannot be imported are moved aside and do
// not stop the scan.
func (s *Service) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read inbox [%s]: %w", s.dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == processedDir || entry.Name() == failedDir {
			continue
		}

		if err := s.scanCarrier(ctx, entry.Name()); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) scanCarrier(ctx context.Context, carrier string) error {
	dir := filepath.Join(s.dir, carrier)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read inbox [%s]: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isSpreadsheet(entry.Name()) {
			continue
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		s.importFile(ctx, carrier, filepath.Join(dir, entry.Name()))
	}

	return nil
}

func (s *Service) importFile(ctx context.Context, carrier, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		logger.Error("Error reading inbox file", log.WithFilename(path), log.WithError(err))

		return
	}

	filename := filepath.Base(path)

	if carrier == ContractsDir {
		err = s.importContracts(ctx, filename, content)
	} else {
		err = s.importSheet(ctx, carrier, filename, content)
	}

	if err != nil {
		logger.Error("Error importing inbox file", log.WithCarrier(carrier),
			log.WithFilename(filename), log.WithError(err))

		s.moveAside(path, failedDir)

		return
	}

	s.moveAside(path, processedDir)
}

func (s *Service) importSheet(ctx context.Context, carrier, filename string, content []byte) error {
	result, err := s.importer.ImportSheet(ctx, &importer.Request{
		Carrier:  carrier,
		Filename: filename,
		Content:  content,
		Importer: importerName,
	})
	if err != nil {
		return err
	}

	logger.Info("Imported carrier statement", log.WithCarrier(carrier), log.WithFilename(filename),
		log.WithTotal(result.Batch.Total), log.WithStatus(fmt.Sprintf("imported %d, skipped %d, errors %d",
			result.Batch.Imported, result.Batch.Skipped, result.Batch.Errors)))

	return nil
}

func (s *Service) importContracts(ctx context.Context, filename string, content []byte) error {
	result, err := s.importer.ImportContracts(ctx, &importer.ContractImportRequest{
		Filename: filename,
		Content:  content,
		Importer: importerName,
	})
	if err != nil {
		return err
	}

	logger.Info("Imported contract export", log.WithFilename(filename),
		log.WithStatus(fmt.Sprintf("imported %d, updated %d, skipped %d",
			result.Imported, result.Updated, result.Skipped)))

	return nil
}

// moveAside moves an imported file into the given subdirectory next to its origin.
func (s *Service) moveAside(path, subdir string) {
	target := filepath.Join(filepath.Dir(path), subdir)

	if err := os.MkdirAll(target, 0o750); err != nil {
		logger.Error("Error creating inbox directory", log.WithFilename(target), log.WithError(err))

		return
	}

	if err := os.Rename(path, filepath.Join(target, filepath.Base(path))); err != nil {
		logger.Error("Error moving inbox file", log.WithFilename(path), log.WithError(err))
	}
}

func isSpreadsheet(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))

	return ext == ".xlsx" || ext == ".xlsm"
}
