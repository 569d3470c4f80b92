/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package split computes the house/consultant/team-leader shares of a commission from a
// versioned rate model. All arithmetic is integer cents with round half to even; the
// three shares always sum to the gross amount exactly.
package split

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/maklerhaus/atlas/internal/pkg/log"
	"github.com/maklerhaus/atlas/pkg/commission/api"
	atlaserrors "github.com/maklerhaus/atlas/pkg/errors"
)

var logger = log.New("split")

type employeeStore interface {
	Get(id string) (*api.Employee, error)
	GetByModel(modelID string) ([]*api.Employee, error)
}

type modelStore interface {
	Get(id string) (*api.CommissionModel, error)
	GetVersions(name string) ([]*api.CommissionModel, error)
	Put(model *api.CommissionModel) error
}

type commissionStore interface {
	Put(commission *api.Commission) error
	GetByConsultant(consultantID string) ([]*api.Commission, error)
}

type settlementStore interface {
	GetRevisions(month, employeeID string) ([]*api.Settlement, error)
}

type settlementRegenerator interface {
	Regenerate(ctx context.Context, month string) ([]*api.Settlement, error)
}

type auditLogger interface {
	Append(entityType, entityID, action, actor string, diff json.RawMessage) error
}

// RecalcSummary reports what a rate-model edit touched.
type RecalcSummary struct {
	SplitsRecalculated     int       `json:"splitsRecalculated"`
	SettlementsRegenerated int       `json:"settlementsRegenerated"`
	AffectedEmployees      int       `json:"affectedEmployees"`
	FromDate               time.Time `json:"fromDate"`
}

// Service computes splits and reacts to rate-model changes.
type Service struct {
	employees   employeeStore
	models      modelStore
	commissions commissionStore
	settlements settlementStore
	regenerator settlementRegenerator
	audit       auditLogger
}

// New returns a new splitter.
func New(employees employeeStore, models modelStore, commissions commissionStore,
	settlements settlementStore, regenerator settlementRegenerator, audit auditLogger) *Service {
	return &Service{
		employees:   employees,
		models:      models,
		commissions: commissions,
		settlements: settlements,
		regenerator: regenerator,
		audit:       audit,
	}
}

// Compute calculates the three shares for a commission and its consultant. The model
// version is the latest active one effective on or before the payout date; employee
// overrides take precedence over model rates.
func (s *Service) Compute(commission *api.Commission, employee *api.Employee) (*api.Split, error) {
	model, err := s.selectVersion(employee, commission.PayoutDate)
	if err != nil {
		return nil, err
	}

	amount := commission.EffectiveAmountCents()

	consultantRate := model.CommissionRate
	if employee.RateOverride != nil {
		consultantRate = *employee.RateOverride
	}

	consultantGross := share(amount, consultantRate)

	var tlRate float64

	switch {
	case employee.TLOverrideRate != nil:
		tlRate = *employee.TLOverrideRate
	case model.TLRate != nil:
		tlRate = *model.TLRate
	}

	tlBasis := model.TLBasis
	if employee.TLOverrideBasis != nil {
		tlBasis = *employee.TLOverrideBasis
	}

	basisAmount := consultantGross
	if tlBasis == api.TLBasisGross {
		basisAmount = amount
	}

	tlAmount := clamp(share(basisAmount, tlRate), consultantGross)

	return &api.Split{
		ConsultantCents: consultantGross - tlAmount,
		TeamLeaderCents: tlAmount,
		HouseCents:      amount - consultantGross,
	}, nil
}

// SplitCommission computes and persists the split for a commission that has a resolved
// consultant.
func (s *Service) SplitCommission(commission *api.Commission) error {
	if commission.ConsultantID == "" {
		return atlaserrors.NewBadRequestf("commission [%s] has no consultant", commission.ID)
	}

	employee, err := s.employees.Get(commission.ConsultantID)
	if err != nil {
		return fmt.Errorf("load consultant [%s]: %w", commission.ConsultantID, err)
	}

	split, err := s.Compute(commission, employee)
	if err != nil {
		return err
	}

	commission.Split = split

	if err := s.commissions.Put(commission); err != nil {
		return fmt.Errorf("store split for commission [%s]: %w", commission.ID, err)
	}

	return nil
}

// UpdateModel stores a new or edited rate model version and recomputes everything the
// edit affects: splits of non-frozen commissions with payout date on or after the
// version's effective-from date, and settlements of the months from that date on. The
// set of affected employees and model versions is snapshotted at call start.
func (s *Service) UpdateModel(ctx context.Context, model *api.CommissionModel, actor string) (*RecalcSummary, error) {
	if model.ID == "" || model.Name == "" {
		return nil, atlaserrors.NewBadRequestf("rate model needs an id and a name")
	}

	if err := s.models.Put(model); err != nil {
		return nil, fmt.Errorf("store rate model [%s]: %w", model.ID, err)
	}

	diff, err := json.Marshal(model)
	if err != nil {
		return nil, fmt.Errorf("marshal rate model diff: %w", err)
	}

	if err := s.audit.Append("commission_model", model.ID, "updated", actor, diff); err != nil {
		return nil, fmt.Errorf("audit rate model change: %w", err)
	}

	return s.recalcFrom(ctx, model)
}

func (s *Service) recalcFrom(ctx context.Context, model *api.CommissionModel) (*RecalcSummary, error) {
	cutoff := model.EffectiveFrom
	summary := &RecalcSummary{FromDate: cutoff}

	employees, err := s.affectedEmployees(model.Name)
	if err != nil {
		return nil, err
	}

	summary.AffectedEmployees = len(employees)

	months := map[string]bool{}

	for _, employee := range employees {
		if err := ctx.Err(); err != nil {
			return nil, atlaserrors.ErrCancelled
		}

		recalculated, affectedMonths, err := s.recalcEmployee(employee, cutoff)
		if err != nil {
			return nil, err
		}

		summary.SplitsRecalculated += recalculated

		for month := range affectedMonths {
			months[month] = true
		}
	}

	for _, month := range sortedMonths(months) {
		if err := ctx.Err(); err != nil {
			return nil, atlaserrors.ErrCancelled
		}

		regenerated, err := s.regenerator.Regenerate(ctx, month)
		if err != nil {
			return nil, fmt.Errorf("regenerate settlements for [%s]: %w", month, err)
		}

		summary.SettlementsRegenerated += len(regenerated)
	}

	logger.Info("Rate model recalculation complete", log.WithRateModelID(model.ID),
		log.WithTotal(summary.SplitsRecalculated))

	return summary, nil
}

// affectedEmployees returns every employee assigned to any version of the model family.
func (s *Service) affectedEmployees(modelName string) ([]*api.Employee, error) {
	versions, err := s.models.GetVersions(modelName)
	if err != nil {
		return nil, fmt.Errorf("load versions of model [%s]: %w", modelName, err)
	}

	seen := map[string]bool{}

	var employees []*api.Employee

	for _, version := range versions {
		assigned, err := s.employees.GetByModel(version.ID)
		if err != nil {
			return nil, fmt.Errorf("load employees on model [%s]: %w", version.ID, err)
		}

		for _, employee := range assigned {
			if !seen[employee.ID] {
				seen[employee.ID] = true

				employees = append(employees, employee)
			}
		}
	}

	return employees, nil
}

// recalcEmployee recomputes the splits of one employee's commissions from the cutoff
// date on. Commissions in months whose current settlement is frozen keep their
// historical splits.
func (s *Service) recalcEmployee(employee *api.Employee, cutoff time.Time) (int, map[string]bool, error) {
	commissions, err := s.commissions.GetByConsultant(employee.ID)
	if err != nil {
		return 0, nil, fmt.Errorf("load commissions of [%s]: %w", employee.ID, err)
	}

	recalculated := 0
	months := map[string]bool{}
	frozenMonths := map[string]bool{}

	for _, commission := range commissions {
		if commission.PayoutDate.Before(cutoff) || !commission.Relevant {
			continue
		}

		month := api.MonthOf(commission.PayoutDate)

		frozen, known := frozenMonths[month]
		if !known {
			frozen, err = s.monthFrozen(month, employee.ID)
			if err != nil {
				return 0, nil, err
			}

			frozenMonths[month] = frozen
		}

		if frozen {
			continue
		}

		split, err := s.Compute(commission, employee)
		if err != nil {
			return 0, nil, err
		}

		commission.Split = split

		if err := s.commissions.Put(commission); err != nil {
			return 0, nil, fmt.Errorf("store recomputed split [%s]: %w", commission.ID, err)
		}

		recalculated++
		months[month] = true
	}

	return recalculated, months, nil
}

// monthFrozen reports whether the employee's current settlement revision for the month
// is locked, released or paid.
func (s *Service) monthFrozen(month, employeeID string) (bool, error) {
	revisions, err := s.settlements.GetRevisions(month, employeeID)
	if err != nil {
		return false, fmt.Errorf("load settlements for [%s/%s]: %w", month, employeeID, err)
	}

	if len(revisions) == 0 {
		return false, nil
	}

	return revisions[len(revisions)-1].Frozen(), nil
}

// selectVersion picks the latest active model version effective on or before the date.
func (s *Service) selectVersion(employee *api.Employee, date time.Time) (*api.CommissionModel, error) {
	if employee.CommissionModelID == "" {
		return nil, atlaserrors.NewBadRequestf("employee [%s] has no commission model", employee.ID)
	}

	assigned, err := s.models.Get(employee.CommissionModelID)
	if err != nil {
		return nil, fmt.Errorf("load model [%s]: %w", employee.CommissionModelID, err)
	}

	versions, err := s.models.GetVersions(assigned.Name)
	if err != nil {
		return nil, fmt.Errorf("load versions of model [%s]: %w", assigned.Name, err)
	}

	var selected *api.CommissionModel

	for _, version := range versions {
		if !version.Active || version.EffectiveFrom.After(date) {
			continue
		}

		if selected == nil || version.EffectiveFrom.After(selected.EffectiveFrom) {
			selected = version
		}
	}

	if selected == nil {
		return nil, atlaserrors.NewBadRequestf(
			"no active version of model [%s] is effective on [%s]", assigned.Name, date.Format("2006-01-02"))
	}

	return selected, nil
}

// share computes amount * rate / 100 in cents, rounded half to even.
func share(amountCents int64, rate float64) int64 {
	return decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromFloat(rate)).
		Div(decimal.NewFromInt(100)).
		RoundBank(0).
		IntPart()
}

// clamp bounds the team-leader amount between zero and the consultant's gross share,
// whichever order those are in.
func clamp(value, consultantGross int64) int64 {
	lower, upper := int64(0), consultantGross
	if consultantGross < 0 {
		lower, upper = consultantGross, 0
	}

	if value < lower {
		return lower
	}

	if value > upper {
		return upper
	}

	return value
}

func sortedMonths(months map[string]bool) []string {
	sorted := make([]string, 0, len(months))

	for month := range months {
		sorted = append(sorted, month)
	}

	sort.Strings(sorted)

	return sorted
}
