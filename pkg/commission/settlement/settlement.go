/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package settlement builds the monthly per-consultant payout snapshots and guards their
// status machine. Revisions are append-only; only drafts are ever replaced.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/commission/api"
	atlaserrors "github.com/maklerhaus/atlas/pkg/errors"
)

var logger = log.New("settlement")

type commissionStore interface {
	GetByMonth(month string) ([]*api.Commission, error)
}

type settlementStore interface {
	Put(settlement *api.Settlement) error
	Get(id string) (*api.Settlement, error)
	GetByMonth(month string) ([]*api.Settlement, error)
	GetRevisions(month, employeeID string) ([]*api.Settlement, error)
	Delete(id string) error
}

type auditLogger interface {
	Append(entityType, entityID, action, actor string, diff json.RawMessage) error
}

// Service builds and mutates settlements.
type Service struct {
	commissions commissionStore
	settlements settlementStore
	audit       auditLogger
	now         func() time.Time
}

// New returns a new settlement builder.
func New(commissions commissionStore, settlements settlementStore, audit auditLogger) *Service {
	return &Service{
		commissions: commissions,
		settlements: settlements,
		audit:       audit,
		now:         time.Now,
	}
}

// totals is the aggregation of one employee's commissions for one month.
type totals struct {
	gross       int64
	tlDeduction int64
	net         int64
	chargebacks int64
	positions   int
}

// Generate builds the settlements for a month. On first run every employee with
// settlement-relevant commissions gets a revision 1 draft; later runs follow the
// regeneration rules.
func (s *Service) Generate(ctx context.Context, month string) ([]*api.Settlement, error) {
	return s.Regenerate(ctx, month)
}

// Regenerate rebuilds the settlements for a month as new revisions. Draft settlements
// are replaced; reviewed ones are demoted to a new draft revision that must be
// re-reviewed; released, paid and locked ones are preserved and the new revision is
// flagged as regenerated after release.
func (s *Service) Regenerate(ctx context.Context, month string) ([]*api.Settlement, error) {
	if _, err := time.Parse("2006-01", month); err != nil {
		return nil, atlaserrors.NewBadRequestf("invalid month [%s]: expected YYYY-MM", month)
	}

	perEmployee, err := s.aggregate(month)
	if err != nil {
		return nil, err
	}

	// Employees that had a settlement in this month but no longer have eligible
	// commissions get a zeroed revision, so reassigned money does not stay payable.
	existing, err := s.settlements.GetByMonth(month)
	if err != nil {
		return nil, fmt.Errorf("load settlements for [%s]: %w", month, err)
	}

	for _, settlement := range existing {
		if _, ok := perEmployee[settlement.EmployeeID]; !ok {
			perEmployee[settlement.EmployeeID] = &totals{}
		}
	}

	var regenerated []*api.Settlement

	for _, employeeID := range sortedKeys(perEmployee) {
		if err := ctx.Err(); err != nil {
			return nil, atlaserrors.ErrCancelled
		}

		settlement, err := s.writeRevision(month, employeeID, perEmployee[employeeID])
		if err != nil {
			return nil, err
		}

		if settlement != nil {
			regenerated = append(regenerated, settlement)
		}
	}

	logger.Info("Generated settlements", log.WithMonth(month), log.WithTotal(len(regenerated)))

	return regenerated, nil
}

// aggregate sums the relevant, consultant-assigned commissions of the month per
// employee. Rows without a split are skipped; they have not been through the splitter
// yet.
func (s *Service) aggregate(month string) (map[string]*totals, error) {
	commissions, err := s.commissions.GetByMonth(month)
	if err != nil {
		return nil, fmt.Errorf("load commissions for [%s]: %w", month, err)
	}

	perEmployee := make(map[string]*totals)

	for _, commission := range commissions {
		if !commission.Relevant || commission.MatchStatus == api.MatchIgnored ||
			commission.ConsultantID == "" || commission.Split == nil {
			continue
		}

		sums, ok := perEmployee[commission.ConsultantID]
		if !ok {
			sums = &totals{}
			perEmployee[commission.ConsultantID] = sums
		}

		if commission.Kind == api.KindChargeback {
			sums.chargebacks += commission.Split.ConsultantCents
		} else {
			// Gross is the full commission amount: consultant, team-leader and house
			// shares together.
			sums.gross += commission.EffectiveAmountCents()
			sums.tlDeduction += commission.Split.TeamLeaderCents
			sums.net += commission.Split.ConsultantCents
		}

		sums.positions++
	}

	return perEmployee, nil
}

// writeRevision applies the regeneration rules for one (month, employee) pair.
func (s *Service) writeRevision(month, employeeID string, sums *totals) (*api.Settlement, error) {
	revisions, err := s.settlements.GetRevisions(month, employeeID)
	if err != nil {
		return nil, err
	}

	next := &api.Settlement{
		ID:               uuid.New().String(),
		Month:            month,
		EmployeeID:       employeeID,
		Revision:         1,
		GrossCents:       sums.gross,
		TLDeductionCents: sums.tlDeduction,
		NetCents:         sums.net,
		ChargebackCents:  sums.chargebacks,
		PayoutCents:      sums.net + sums.chargebacks,
		Positions:        sums.positions,
		Status:           api.SettlementDraft,
		GeneratedAt:      s.now(),
	}

	if len(revisions) == 0 {
		if err := s.settlements.Put(next); err != nil {
			return nil, err
		}

		return next, nil
	}

	latest := revisions[len(revisions)-1]

	if unchangedTotals(latest, next) && latest.Status == api.SettlementDraft {
		return nil, nil
	}

	next.Revision = latest.Revision + 1

	switch {
	case latest.Frozen():
		next.RegeneratedAfterRelease = true
	case latest.Status == api.SettlementDraft:
		// A draft is replaced, not retained.
		if err := s.settlements.Delete(latest.ID); err != nil {
			return nil, err
		}
	case latest.Status == api.SettlementReviewed:
		// The reviewed snapshot stays readable, but the new revision must be
		// re-reviewed.
	}

	if err := s.settlements.Put(next); err != nil {
		return nil, err
	}

	return next, nil
}

// SetStatus moves a settlement through the status machine. Disallowed transitions are
// rejected.
func (s *Service) SetStatus(id string, to api.SettlementStatus, actor string) (*api.Settlement, error) {
	settlement, err := s.settlements.Get(id)
	if err != nil {
		return nil, err
	}

	if !settlement.Status.CanTransitionTo(to) {
		return nil, atlaserrors.NewBadRequestf(
			"settlement [%s]: transition [%s] to [%s] is not allowed", id, settlement.Status, to)
	}

	from := settlement.Status
	settlement.Status = to

	if err := s.settlements.Put(settlement); err != nil {
		return nil, err
	}

	diff, err := json.Marshal(map[string]interface{}{"from": from, "to": to})
	if err != nil {
		return nil, fmt.Errorf("marshal status diff: %w", err)
	}

	if err := s.audit.Append("settlement", id, "status_changed", actor, diff); err != nil {
		return nil, fmt.Errorf("audit settlement status change: %w", err)
	}

	logger.Info("Settlement status changed", log.WithSettlementID(id),
		log.WithStatus(string(to)), log.WithActor(actor))

	return settlement, nil
}

// SetLocked toggles the lock flag. A locked settlement is frozen regardless of status.
func (s *Service) SetLocked(id string, locked bool, actor string) (*api.Settlement, error) {
	settlement, err := s.settlements.Get(id)
	if err != nil {
		return nil, err
	}

	if settlement.Locked == locked {
		return settlement, nil
	}

	settlement.Locked = locked

	if err := s.settlements.Put(settlement); err != nil {
		return nil, err
	}

	diff, err := json.Marshal(map[string]interface{}{"locked": locked})
	if err != nil {
		return nil, fmt.Errorf("marshal lock diff: %w", err)
	}

	if err := s.audit.Append("settlement", id, "lock_changed", actor, diff); err != nil {
		return nil, fmt.Errorf("audit settlement lock change: %w", err)
	}

	return settlement, nil
}

// GetByMonth returns all settlement revisions of a month.
func (s *Service) GetByMonth(month string) ([]*api.Settlement, error) {
	return s.settlements.GetByMonth(month)
}

func unchangedTotals(a, b *api.Settlement) bool {
	return a.GrossCents == b.GrossCents &&
		a.TLDeductionCents == b.TLDeductionCents &&
		a.NetCents == b.NetCents &&
		a.ChargebackCents == b.ChargebackCents &&
		a.PayoutCents == b.PayoutCents &&
		a.Positions == b.Positions
}

func sortedKeys(m map[string]*totals) []string {
	keys := make([]string, 0, len(m))

	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
