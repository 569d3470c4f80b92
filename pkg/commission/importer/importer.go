/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package importer runs the import flows: carrier commission sheets, portal contract
// exports and manually entered commissions. Imports are idempotent on the row
// fingerprint; re-importing a file yields zero new commissions.
package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/commission/api"
	"github.com/maklerhaus/atlas/pkg/commission/match"
	"github.com/maklerhaus/atlas/pkg/commission/normalize"
	"github.com/maklerhaus/atlas/pkg/commission/sheet"
	"github.com/maklerhaus/atlas/pkg/commission/xempus"
	atlaserrors "github.com/maklerhaus/atlas/pkg/errors"
)

var logger = log.New("importer")

// ImportCompletedTopic carries a notification per finished import batch.
const ImportCompletedTopic = "import-completed"

const reasonDuplicate = "duplicate"

type commissionStore interface {
	Put(commission *api.Commission) error
	GetByRowHash(rowHash string) (*api.Commission, error)
}

type contractStore interface {
	Put(contract *api.Contract) error
	GetByXempusID(xempusID string) (*api.Contract, error)
	GetByVSNR(vsnrNormalized string) ([]*api.Contract, error)
}

type mappingStore interface {
	GetByName(nameNormalized string) (*api.IntermediaryMapping, error)
}

type batchStore interface {
	Put(batch *api.ImportBatch) error
}

type auditLogger interface {
	Append(entityType, entityID, action, actor string, diff json.RawMessage) error
}

type matcher interface {
	MatchBatch(ctx context.Context, batchID string) (*match.Result, error)
}

type publisher interface {
	Publish(topic string, messages ...*message.Message) error
}

// Request describes one sheet import.
type Request struct {
	Carrier   string
	Filename  string
	Content   []byte
	Importer  string
	SkipMatch bool
}

// SkippedRow records a row that was not imported, with the reason.
type SkippedRow struct {
	Row    int
	Reason string
}

// Result is the outcome of one import run.
type Result struct {
	Batch   *api.ImportBatch
	Skipped []SkippedRow
	Errors  []sheet.RowError
	Match   *match.Result
}

// ImportCompletedEvent is the payload published on ImportCompletedTopic.
type ImportCompletedEvent struct {
	BatchID    string         `json:"batchId"`
	SourceType api.SourceType `json:"sourceType"`
	Carrier    string         `json:"carrier,omitempty"`
	Imported   int            `json:"imported"`
	Skipped    int            `json:"skipped"`
	Errors     int            `json:"errors"`
}

// Service runs imports.
type Service struct {
	commissions commissionStore
	contracts   contractStore
	mappings    mappingStore
	batches     batchStore
	audit       auditLogger
	matcher     matcher
	publisher   publisher
	now         func() time.Time
}

// New returns a new importer.
func New(commissions commissionStore, contracts contractStore, mappings mappingStore,
	batches batchStore, audit auditLogger, m matcher, pub publisher) *Service {
	return &Service{
		commissions: commissions,
		contracts:   contracts,
		mappings:    mappings,
		batches:     batches,
		audit:       audit,
		matcher:     m,
		publisher:   pub,
		now:         time.Now,
	}
}

// ImportSheet imports a carrier commission register. Each row is independent: rows that
// fail to parse or are duplicates of earlier batches do not prevent the valid rows from
// committing. Matching runs after the whole batch unless the request says otherwise.
func (s *Service) ImportSheet(ctx context.Context, req *Request) (*Result, error) {
	if req.Carrier == "" {
		return nil, atlaserrors.NewBadRequestf("import needs a carrier")
	}

	parsed, err := sheet.Parse(bytes.NewReader(req.Content), req.Carrier)
	if err != nil {
		return nil, err
	}

	batch := &api.ImportBatch{
		ID:         uuid.New().String(),
		SourceType: api.SourceCarrierSheet,
		Carrier:    req.Carrier,
		Filename:   req.Filename,
		Sheet:      parsed.Sheet,
		Total:      len(parsed.Rows) + len(parsed.Errors),
		Errors:     len(parsed.Errors),
		Importer:   req.Importer,
		CreatedAt:  s.now(),
		FileSHA256: fileHash(req.Content),
	}

	result := &Result{Batch: batch, Errors: parsed.Errors}

	for i := range parsed.Rows {
		if err := ctx.Err(); err != nil {
			return nil, atlaserrors.ErrCancelled
		}

		row := parsed.Rows[i]

		duplicate, err := s.isDuplicate(row.RowHash)
		if err != nil {
			return nil, err
		}

		if duplicate {
			batch.Skipped++

			result.Skipped = append(result.Skipped, SkippedRow{Row: row.SourceRow, Reason: reasonDuplicate})

			continue
		}

		row.ID = uuid.New().String()
		row.BatchID = batch.ID

		if err := s.commissions.Put(&row); err != nil {
			return nil, fmt.Errorf("store commission from row %d: %w", row.SourceRow, err)
		}

		batch.Imported++
	}

	if !req.SkipMatch && batch.Imported > 0 {
		matchResult, err := s.matcher.MatchBatch(ctx, batch.ID)
		if err != nil {
			return nil, fmt.Errorf("match batch [%s]: %w", batch.ID, err)
		}

		result.Match = matchResult
		batch.Matched = matchResult.Matched
	}

	if err := s.finishBatch(batch, req.Importer); err != nil {
		return nil, err
	}

	logger.Info("Imported carrier sheet", log.WithCarrier(req.Carrier),
		log.WithBatchID(batch.ID), log.WithTotal(batch.Imported))

	return result, nil
}

// ContractImportRequest describes one portal contract export import.
type ContractImportRequest struct {
	Filename string
	Content  []byte
	Importer string
}

// ContractImportResult is the outcome of a contract export import.
type ContractImportResult struct {
	Batch    *api.ImportBatch
	Imported int
	Updated  int
	Skipped  int
	Errors   []xempus.RowError
}

// ImportContracts imports a portal contract export. Contracts are upserted: an existing
// contract with the same portal id (or the same normalized VSNR) is updated in place.
func (s *Service) ImportContracts(ctx context.Context, req *ContractImportRequest) (*ContractImportResult, error) {
	parsed, err := xempus.Parse(bytes.NewReader(req.Content))
	if err != nil {
		return nil, err
	}

	batch := &api.ImportBatch{
		ID:         uuid.New().String(),
		SourceType: api.SourceXempus,
		Filename:   req.Filename,
		Sheet:      parsed.Sheet,
		Total:      len(parsed.Contracts) + parsed.Skipped + len(parsed.Errors),
		Skipped:    parsed.Skipped,
		Errors:     len(parsed.Errors),
		Importer:   req.Importer,
		CreatedAt:  s.now(),
		FileSHA256: fileHash(req.Content),
	}

	result := &ContractImportResult{Batch: batch, Skipped: parsed.Skipped, Errors: parsed.Errors}

	for i := range parsed.Contracts {
		if err := ctx.Err(); err != nil {
			return nil, atlaserrors.ErrCancelled
		}

		row := parsed.Contracts[i]

		updated, err := s.upsertContract(&row)
		if err != nil {
			return nil, fmt.Errorf("upsert contract from row %d: %w", row.SourceRow, err)
		}

		if updated {
			result.Updated++
		} else {
			result.Imported++
		}
	}

	batch.Imported = result.Imported

	if err := s.finishBatch(batch, req.Importer); err != nil {
		return nil, err
	}

	logger.Info("Imported portal contract export", log.WithBatchID(batch.ID),
		log.WithTotal(result.Imported))

	return result, nil
}

// AddFreeCommission records a manually entered commission. It gets its own single-row
// batch so that the audit trail is uniform across sources.
func (s *Service) AddFreeCommission(commission *api.Commission, actor string) (*api.Commission, error) {
	if commission.ConsultantID == "" {
		return nil, atlaserrors.NewBadRequestf("free commission needs a consultant")
	}

	if commission.PayoutDate.IsZero() {
		return nil, atlaserrors.NewBadRequestf("free commission needs a payout date")
	}

	batch := &api.ImportBatch{
		ID:         uuid.New().String(),
		SourceType: api.SourceFreeCommission,
		Total:      1,
		Imported:   1,
		Importer:   actor,
		CreatedAt:  s.now(),
	}

	commission.ID = uuid.New().String()
	commission.BatchID = batch.ID
	commission.MatchStatus = api.MatchManual
	commission.Relevant = true
	commission.VSNRNormalized = normalize.VSNR(commission.VSNR)
	commission.RowHash = sheet.RowHash("free", commission.VSNRNormalized,
		commission.AmountCents, commission.PayoutDate, commission.Kind)

	if err := s.commissions.Put(commission); err != nil {
		return nil, fmt.Errorf("store free commission: %w", err)
	}

	if err := s.finishBatch(batch, actor); err != nil {
		return nil, err
	}

	return commission, nil
}

func (s *Service) isDuplicate(rowHash string) (bool, error) {
	_, err := s.commissions.GetByRowHash(rowHash)
	if err != nil {
		if errors.Is(err, atlaserrors.ErrNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("check row fingerprint: %w", err)
	}

	return true, nil
}

// upsertContract writes one contract from the export, preferring the portal id as the
// identity, falling back to the normalized VSNR. The advisor name is resolved to an
// employee via the intermediary mapping table.
func (s *Service) upsertContract(row *xempus.ContractRow) (bool, error) {
	contract := row.Contract

	if row.Advisor != "" {
		employeeID, err := s.resolveAdvisor(row.Advisor)
		if err != nil {
			return false, err
		}

		contract.ConsultantID = employeeID
	}

	existing, err := s.findExisting(&contract)
	if err != nil {
		return false, err
	}

	updated := existing != nil

	if updated {
		contract.ID = existing.ID

		// Aggregates are maintained by the commission flows, not by the export.
		contract.ProvisionCount = existing.ProvisionCount
		contract.ProvisionCents = existing.ProvisionCents
	} else {
		contract.ID = uuid.New().String()
	}

	if err := s.contracts.Put(&contract); err != nil {
		return false, err
	}

	return updated, nil
}

func (s *Service) findExisting(contract *api.Contract) (*api.Contract, error) {
	if contract.XempusID != "" {
		existing, err := s.contracts.GetByXempusID(contract.XempusID)
		if err == nil {
			return existing, nil
		}

		if !errors.Is(err, atlaserrors.ErrNotFound) {
			return nil, err
		}
	}

	if contract.VSNRNormalized == "" {
		return nil, nil
	}

	matches, err := s.contracts.GetByVSNR(contract.VSNRNormalized)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return nil, nil
	}

	return matches[0], nil
}

func (s *Service) resolveAdvisor(name string) (string, error) {
	normalized := normalize.Intermediary(normalize.VBName(name))

	mapping, err := s.mappings.GetByName(normalized)
	if err != nil {
		if errors.Is(err, atlaserrors.ErrNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("resolve advisor [%s]: %w", normalized, err)
	}

	return mapping.EmployeeID, nil
}

// finishBatch persists the batch record, writes the audit entry and publishes the
// completion event.
func (s *Service) finishBatch(batch *api.ImportBatch, actor string) error {
	if err := s.batches.Put(batch); err != nil {
		return fmt.Errorf("store import batch: %w", err)
	}

	diff, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch diff: %w", err)
	}

	if err := s.audit.Append("import_batch", batch.ID, "imported", actor, diff); err != nil {
		return fmt.Errorf("audit import batch: %w", err)
	}

	event := ImportCompletedEvent{
		BatchID:    batch.ID,
		SourceType: batch.SourceType,
		Carrier:    batch.Carrier,
		Imported:   batch.Imported,
		Skipped:    batch.Skipped,
		Errors:     batch.Errors,
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal import event: %w", err)
	}

	if err := s.publisher.Publish(ImportCompletedTopic, message.NewMessage(uuid.New().String(), payload)); err != nil {
		logger.Warn("Error publishing import event", log.WithBatchID(batch.ID), log.WithError(err))
	}

	return nil
}

func fileHash(content []byte) string {
	digest := sha256.Sum256(content)

	return hex.EncodeToString(digest[:])
}
