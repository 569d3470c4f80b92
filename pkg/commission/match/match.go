/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package match assigns imported commissions to contracts and consultants. Stage one is
// an exact lookup on the normalized policy number; stage two resolves the carrier-side
// intermediary name to an employee via the mapping table. Both stages are independent.
package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bluele/gcache"
	"golang.org/x/sync/errgroup"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/commission/api"
	"github.com/maklerhaus/atlas/pkg/commission/normalize"
	atlaserrors "github.com/maklerhaus/atlas/pkg/errors"
)

var logger = log.New("match")

const (
	defaultCacheSize       = 10000
	defaultCacheExpiration = 5 * time.Minute
	defaultWorkers         = 8

	actorAuto = "matcher"
)

type contractStore interface {
	GetByVSNR(vsnrNormalized string) ([]*api.Contract, error)
}

type mappingStore interface {
	GetByName(nameNormalized string) (*api.IntermediaryMapping, error)
}

type commissionStore interface {
	Get(id string) (*api.Commission, error)
	Put(commission *api.Commission) error
	GetByBatch(batchID string) ([]*api.Commission, error)
	GetByMatchStatus(status api.MatchStatus) ([]*api.Commission, error)
}

type auditLogger interface {
	Append(entityType, entityID, action, actor string, diff json.RawMessage) error
}

// Result summarizes one matching run.
type Result struct {
	Total     int
	Matched   int
	WithOwner int
	Unmatched int
	Skipped   int
}

// Option customizes the matcher.
type Option func(*Service)

// WithWorkers sets the number of concurrent matching workers.
func WithWorkers(n int) Option {
	return func(s *Service) {
		s.workers = n
	}
}

// WithCacheExpiration sets the contract index expiration.
func WithCacheExpiration(d time.Duration) Option {
	return func(s *Service) {
		s.cacheExpiration = d
	}
}

// Service is the commission matcher.
type Service struct {
	contracts       contractStore
	mappings        mappingStore
	commissions     commissionStore
	audit           auditLogger
	workers         int
	cacheExpiration time.Duration
	contractIndex   gcache.Cache
}

// New returns a new matcher.
func New(contracts contractStore, mappings mappingStore, commissions commissionStore,
	audit auditLogger, opts ...Option) *Service {
	s := &Service{
		contracts:       contracts,
		mappings:        mappings,
		commissions:     commissions,
		audit:           audit,
		workers:         defaultWorkers,
		cacheExpiration: defaultCacheExpiration,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.contractIndex = gcache.New(defaultCacheSize).ARC().
		LoaderExpireFunc(func(key interface{}) (interface{}, *time.Duration, error) {
			contracts, err := s.contracts.GetByVSNR(key.(string))
			if err != nil {
				return nil, nil, err
			}

			return contracts, &s.cacheExpiration, nil
		}).Build()

	return s
}

// MatchBatch matches all commissions of an import batch. Matching is idempotent; rows
// already matched manually or ignored are left untouched.
func (s *Service) MatchBatch(ctx context.Context, batchID string) (*Result, error) {
	commissions, err := s.commissions.GetByBatch(batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch [%s]: %w", batchID, err)
	}

	return s.matchAll(ctx, commissions)
}

// Rerun re-matches every commission that is not in a terminal manual state. Safe to run
// any number of times.
func (s *Service) Rerun(ctx context.Context) (*Result, error) {
	var commissions []*api.Commission

	for _, status := range []api.MatchStatus{api.MatchUnmatched, api.MatchAuto} {
		batch, err := s.commissions.GetByMatchStatus(status)
		if err != nil {
			return nil, fmt.Errorf("load commissions with status [%s]: %w", status, err)
		}

		commissions = append(commissions, batch...)
	}

	s.contractIndex.Purge()

	return s.matchAll(ctx, commissions)
}

func (s *Service) matchAll(ctx context.Context, commissions []*api.Commission) (*Result, error) {
	result := &Result{Total: len(commissions)}

	var mutex sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, commission := range commissions {
		commission := commission

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return atlaserrors.ErrCancelled
			}

			outcome, err := s.matchOne(commission)
			if err != nil {
				return err
			}

			mutex.Lock()
			defer mutex.Unlock()

			switch {
			case outcome == nil:
				result.Skipped++
			case outcome.MatchStatus == api.MatchAuto:
				result.Matched++

				if outcome.ConsultantID != "" {
					result.WithOwner++
				}
			default:
				result.Unmatched++
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Info("Matching run complete", log.WithTotal(result.Total))

	return result, nil
}

// matchOne runs both stages on a single commission. It returns the commission in its
// final state, or nil if the row was skipped because it is in a terminal manual state.
func (s *Service) matchOne(commission *api.Commission) (*api.Commission, error) {
	if commission.MatchStatus == api.MatchManual || commission.MatchStatus == api.MatchIgnored {
		return nil, nil
	}

	updated := *commission

	// Stage 1: contract lookup on the normalized policy number. The assignment is made
	// only when exactly one contract matches; an ambiguous VSNR stays unmatched.
	contracts, err := s.lookupContracts(commission.VSNRNormalized)
	if err != nil {
		return nil, fmt.Errorf("contract lookup for [%s]: %w", commission.VSNRNormalized, err)
	}

	if len(contracts) == 1 {
		updated.ContractID = contracts[0].ID
		updated.MatchStatus = api.MatchAuto
		updated.MatchConfidence = 1.0
	} else {
		updated.ContractID = ""
		updated.MatchStatus = api.MatchUnmatched
		updated.MatchConfidence = 0
	}

	// Stage 2: intermediary resolution, independent of stage 1.
	if commission.IntermediaryName != "" {
		employeeID, err := s.resolveIntermediary(commission.IntermediaryName)
		if err != nil {
			return nil, err
		}

		if employeeID != "" {
			updated.ConsultantID = employeeID
		}
	}

	if unchangedMatch(commission, &updated) {
		return &updated, nil
	}

	if err := s.commissions.Put(&updated); err != nil {
		return nil, fmt.Errorf("store matched commission [%s]: %w", updated.ID, err)
	}

	if err := s.auditMatch(commission, &updated); err != nil {
		return nil, err
	}

	return &updated, nil
}

func (s *Service) lookupContracts(vsnrNormalized string) ([]*api.Contract, error) {
	value, err := s.contractIndex.Get(vsnrNormalized)
	if err != nil {
		return nil, err
	}

	contracts, _ := value.([]*api.Contract)

	return contracts, nil
}

func (s *Service) resolveIntermediary(name string) (string, error) {
	normalized := normalize.Intermediary(normalize.VBName(name))

	mapping, err := s.mappings.GetByName(normalized)
	if err != nil {
		if errors.Is(err, atlaserrors.ErrNotFound) {
			return "", nil
		}

		return "", fmt.Errorf("resolve intermediary [%s]: %w", normalized, err)
	}

	return mapping.EmployeeID, nil
}

// AssignContract records a manual contract assignment.
func (s *Service) AssignContract(commissionID, contractID, actor string) error {
	commission, err := s.commissions.Get(commissionID)
	if err != nil {
		return err
	}

	if commission.MatchStatus == api.MatchIgnored {
		return atlaserrors.NewBadRequestf("commission [%s] is ignored", commissionID)
	}

	commission.ContractID = contractID
	commission.MatchStatus = api.MatchManual
	commission.MatchConfidence = 1.0

	if err := s.commissions.Put(commission); err != nil {
		return fmt.Errorf("store commission [%s]: %w", commissionID, err)
	}

	return s.appendAudit(commissionID, "contract_assigned", actor,
		map[string]interface{}{"contractId": contractID})
}

// AssignConsultant records a manual consultant assignment or override.
func (s *Service) AssignConsultant(commissionID, employeeID, actor string) error {
	commission, err := s.commissions.Get(commissionID)
	if err != nil {
		return err
	}

	if commission.MatchStatus == api.MatchIgnored {
		return atlaserrors.NewBadRequestf("commission [%s] is ignored", commissionID)
	}

	// The manual status protects the override from being re-resolved on later runs.
	commission.ConsultantID = employeeID
	commission.MatchStatus = api.MatchManual

	if err := s.commissions.Put(commission); err != nil {
		return fmt.Errorf("store commission [%s]: %w", commissionID, err)
	}

	return s.appendAudit(commissionID, "consultant_assigned", actor,
		map[string]interface{}{"consultantId": employeeID})
}

// Ignore marks a commission as not to be settled. The state is terminal.
func (s *Service) Ignore(commissionID, actor string) error {
	commission, err := s.commissions.Get(commissionID)
	if err != nil {
		return err
	}

	if commission.MatchStatus == api.MatchIgnored {
		return nil
	}

	commission.MatchStatus = api.MatchIgnored

	if err := s.commissions.Put(commission); err != nil {
		return fmt.Errorf("store commission [%s]: %w", commissionID, err)
	}

	return s.appendAudit(commissionID, "ignored", actor, nil)
}

// Clearance returns the rows that need human attention: unmatched rows and matched rows
// that still have no consultant.
func (s *Service) Clearance() ([]*api.Commission, error) {
	unmatched, err := s.commissions.GetByMatchStatus(api.MatchUnmatched)
	if err != nil {
		return nil, fmt.Errorf("load unmatched commissions: %w", err)
	}

	matched, err := s.commissions.GetByMatchStatus(api.MatchAuto)
	if err != nil {
		return nil, fmt.Errorf("load matched commissions: %w", err)
	}

	pending := unmatched

	for _, commission := range matched {
		if commission.ConsultantID == "" {
			pending = append(pending, commission)
		}
	}

	return pending, nil
}

func (s *Service) auditMatch(before, after *api.Commission) error {
	diff := map[string]interface{}{
		"matchStatus": after.MatchStatus,
	}

	if after.ContractID != before.ContractID {
		diff["contractId"] = after.ContractID
	}

	if after.ConsultantID != before.ConsultantID {
		diff["consultantId"] = after.ConsultantID
	}

	return s.appendAudit(after.ID, "auto_matched", actorAuto, diff)
}

func (s *Service) appendAudit(commissionID, action, actor string, diff map[string]interface{}) error {
	var diffBytes json.RawMessage

	if diff != nil {
		var err error

		diffBytes, err = json.Marshal(diff)
		if err != nil {
			return fmt.Errorf("marshal audit diff: %w", err)
		}
	}

	if err := s.audit.Append("commission", commissionID, action, actor, diffBytes); err != nil {
		return fmt.Errorf("audit [%s] on commission [%s]: %w", action, commissionID, err)
	}

	return nil
}

func unchangedMatch(before, after *api.Commission) bool {
	return before.MatchStatus == after.MatchStatus &&
		before.ContractID == after.ContractID &&
		before.ConsultantID == after.ConsultantID
}
