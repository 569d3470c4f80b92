/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package split

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/maklerhaus/atlas/pkg/commission/api"
	auditstore "github.com/maklerhaus/atlas/pkg/store/auditlog"
	commissionstore "github.com/maklerhaus/atlas/pkg/store/commission"
	employeestore "github.com/maklerhaus/atlas/pkg/store/employee"
	ratemodelstore "github.com/maklerhaus/atlas/pkg/store/ratemodel"
	settlementstore "github.com/maklerhaus/atlas/pkg/store/settlement"
)

type stubRegenerator struct {
	mutex  sync.Mutex
	months []string
	perRun int
}

func (r *stubRegenerator) Regenerate(_ context.Context, month string) ([]*api.Settlement, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.months = append(r.months, month)

	regenerated := make([]*api.Settlement, r.perRun)

	for i := range regenerated {
		regenerated[i] = &api.Settlement{Month: month}
	}

	return regenerated, nil
}

type fixture struct {
	employees   *employeestore.Store
	models      *ratemodelstore.Store
	commissions *commissionstore.Store
	settlements *settlementstore.Store
	regenerator *stubRegenerator
	service     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	provider := mem.NewProvider()

	employees, err := employeestore.New(provider)
	require.NoError(t, err)

	models, err := ratemodelstore.New(provider)
	require.NoError(t, err)

	commissions, err := commissionstore.New(provider)
	require.NoError(t, err)

	settlements, err := settlementstore.New(provider)
	require.NoError(t, err)

	audit, err := auditstore.New(provider)
	require.NoError(t, err)

	regenerator := &stubRegenerator{perRun: 1}

	return &fixture{
		employees:   employees,
		models:      models,
		commissions: commissions,
		settlements: settlements,
		regenerator: regenerator,
		service:     New(employees, models, commissions, settlements, regenerator, audit),
	}
}

func floatPtr(f float64) *float64 { return &f }

func basisPtr(b api.TLBasis) *api.TLBasis { return &b }

func (f *fixture) seedModel(t *testing.T, id string, rate float64, tlRate *float64,
	effectiveFrom time.Time) {
	t.Helper()

	require.NoError(t, f.models.Put(&api.CommissionModel{
		ID: id, Name: "Standard", CommissionRate: rate, TLRate: tlRate,
		TLBasis: api.TLBasisConsultantShare, EffectiveFrom: effectiveFrom, Active: true,
	}))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCompute(t *testing.T) {
	f := newFixture(t)
	f.seedModel(t, "m1", 70, floatPtr(10), date(2024, 1, 1))

	employee := &api.Employee{ID: "e1", CommissionModelID: "m1", Active: true}

	t.Run("basic split", func(t *testing.T) {
		split, err := f.service.Compute(&api.Commission{
			AmountCents: 10000, PayoutDate: date(2025, 2, 1),
		}, employee)
		require.NoError(t, err)
		require.EqualValues(t, 6300, split.ConsultantCents)
		require.EqualValues(t, 700, split.TeamLeaderCents)
		require.EqualValues(t, 3000, split.HouseCents)
		require.EqualValues(t, 10000, split.TotalCents())
	})

	t.Run("rate override", func(t *testing.T) {
		withOverride := &api.Employee{
			ID: "e2", CommissionModelID: "m1", RateOverride: floatPtr(80),
			TLOverrideRate: floatPtr(5), TLOverrideBasis: basisPtr(api.TLBasisGross),
		}

		split, err := f.service.Compute(&api.Commission{
			AmountCents: 10000, PayoutDate: date(2025, 2, 1),
		}, withOverride)
		require.NoError(t, err)
		require.EqualValues(t, 7500, split.ConsultantCents)
		require.EqualValues(t, 500, split.TeamLeaderCents)
		require.EqualValues(t, 2000, split.HouseCents)
	})

	t.Run("override amount wins", func(t *testing.T) {
		split, err := f.service.Compute(&api.Commission{
			AmountCents: 10000, PayoutDate: date(2025, 2, 1),
			Override: &api.Override{AmountCents: 20000, Reason: "korrektur", Author: "backoffice"},
		}, employee)
		require.NoError(t, err)
		require.EqualValues(t, 20000, split.TotalCents())
	})

	t.Run("round half to even", func(t *testing.T) {
		// 1000 * 12.25% = 122.5 cents, ties to 122.
		even := &api.Employee{ID: "e3", CommissionModelID: "m1", RateOverride: floatPtr(12.25)}

		split, err := f.service.Compute(&api.Commission{
			AmountCents: 1000, PayoutDate: date(2025, 2, 1),
		}, even)
		require.NoError(t, err)
		require.EqualValues(t, 1000-split.HouseCents, split.ConsultantCents+split.TeamLeaderCents)
		require.EqualValues(t, 122, 1000-split.HouseCents)

		// 1000 * 12.35% = 123.5 cents, ties to 124.
		odd := &api.Employee{ID: "e4", CommissionModelID: "m1", RateOverride: floatPtr(12.35)}

		split, err = f.service.Compute(&api.Commission{
			AmountCents: 1000, PayoutDate: date(2025, 2, 1),
		}, odd)
		require.NoError(t, err)
		require.EqualValues(t, 124, 1000-split.HouseCents)
	})

	t.Run("team leader share clamped to consultant gross", func(t *testing.T) {
		clamped := &api.Employee{
			ID: "e5", CommissionModelID: "m1", RateOverride: floatPtr(30),
			TLOverrideRate: floatPtr(50), TLOverrideBasis: basisPtr(api.TLBasisGross),
		}

		split, err := f.service.Compute(&api.Commission{
			AmountCents: 10000, PayoutDate: date(2025, 2, 1),
		}, clamped)
		require.NoError(t, err)
		require.EqualValues(t, 0, split.ConsultantCents)
		require.EqualValues(t, 3000, split.TeamLeaderCents)
		require.EqualValues(t, 7000, split.HouseCents)
	})

	t.Run("chargeback", func(t *testing.T) {
		split, err := f.service.Compute(&api.Commission{
			AmountCents: -4000, Kind: api.KindChargeback, PayoutDate: date(2025, 2, 1),
		}, employee)
		require.NoError(t, err)
		require.EqualValues(t, -2520, split.ConsultantCents)
		require.EqualValues(t, -280, split.TeamLeaderCents)
		require.EqualValues(t, -1200, split.HouseCents)
		require.EqualValues(t, -4000, split.TotalCents())
	})
}

func TestSumExactness(t *testing.T) {
	f := newFixture(t)
	f.seedModel(t, "m1", 70, floatPtr(15), date(2024, 1, 1))

	employee := &api.Employee{ID: "e1", CommissionModelID: "m1"}

	for _, amount := range []int64{1, 3, 99, 101, 4750, -4750, 123457, -1, 25} {
		for _, rate := range []float64{0, 12.5, 33.33, 50, 70.07, 100} {
			employee.RateOverride = floatPtr(rate)

			split, err := f.service.Compute(&api.Commission{
				AmountCents: amount, PayoutDate: date(2025, 2, 1),
			}, employee)
			require.NoError(t, err)
			require.Equal(t, amount, split.TotalCents(),
				"amount=%d rate=%v", amount, rate)
		}
	}
}

func TestVersionSelection(t *testing.T) {
	f := newFixture(t)
	f.seedModel(t, "m1", 70, nil, date(2024, 1, 1))
	f.seedModel(t, "m2", 75, nil, date(2025, 3, 1))

	// Inactive versions are never selected.
	require.NoError(t, f.models.Put(&api.CommissionModel{
		ID: "m3", Name: "Standard", CommissionRate: 90,
		EffectiveFrom: date(2025, 1, 1), Active: false,
	}))

	employee := &api.Employee{ID: "e1", CommissionModelID: "m1"}

	before, err := f.service.Compute(&api.Commission{
		AmountCents: 10000, PayoutDate: date(2025, 2, 28),
	}, employee)
	require.NoError(t, err)
	require.EqualValues(t, 7000, before.ConsultantCents)

	after, err := f.service.Compute(&api.Commission{
		AmountCents: 10000, PayoutDate: date(2025, 3, 1),
	}, employee)
	require.NoError(t, err)
	require.EqualValues(t, 7500, after.ConsultantCents)

	_, err = f.service.Compute(&api.Commission{
		AmountCents: 10000, PayoutDate: date(2023, 6, 1),
	}, employee)
	require.Error(t, err)
}

func TestUpdateModelRecalculates(t *testing.T) {
	f := newFixture(t)
	f.seedModel(t, "m1", 70, nil, date(2024, 1, 1))

	require.NoError(t, f.employees.Put(&api.Employee{
		ID: "e1", Name: "Hans Weiss", Role: api.RoleConsultant, CommissionModelID: "m1", Active: true,
	}))

	// One commission before the cutoff, two after, one of them in a released month.
	seed := []*api.Commission{
		{ID: "k1", ConsultantID: "e1", AmountCents: 10000, PayoutDate: date(2025, 1, 15), Relevant: true},
		{ID: "k2", ConsultantID: "e1", AmountCents: 10000, PayoutDate: date(2025, 3, 15), Relevant: true},
		{ID: "k3", ConsultantID: "e1", AmountCents: 10000, PayoutDate: date(2025, 4, 15), Relevant: true},
	}

	for _, c := range seed {
		c.MatchStatus = api.MatchAuto
		c.BatchID = "b1"
		c.RowHash = c.ID
		require.NoError(t, f.service.SplitCommission(c))
	}

	// April is released: its splits and settlement must stay untouched.
	require.NoError(t, f.settlements.Put(&api.Settlement{
		ID: "s1", Month: "2025-04", EmployeeID: "e1", Revision: 1, Status: api.SettlementReleased,
	}))

	summary, err := f.service.UpdateModel(context.Background(), &api.CommissionModel{
		ID: "m2", Name: "Standard", CommissionRate: 75, TLBasis: api.TLBasisConsultantShare,
		EffectiveFrom: date(2025, 3, 1), Active: true,
	}, "backoffice")
	require.NoError(t, err)

	require.Equal(t, 1, summary.AffectedEmployees)
	require.Equal(t, 1, summary.SplitsRecalculated)
	require.Equal(t, 1, summary.SettlementsRegenerated)
	require.Equal(t, date(2025, 3, 1), summary.FromDate)
	require.Equal(t, []string{"2025-03"}, f.regenerator.months)

	k1, err := f.commissions.Get("k1")
	require.NoError(t, err)
	require.EqualValues(t, 7000, k1.Split.ConsultantCents)

	k2, err := f.commissions.Get("k2")
	require.NoError(t, err)
	require.EqualValues(t, 7500, k2.Split.ConsultantCents)

	k3, err := f.commissions.Get("k3")
	require.NoError(t, err)
	require.EqualValues(t, 7000, k3.Split.ConsultantCents)
}

func TestUpdateModelValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.UpdateModel(context.Background(), &api.CommissionModel{}, "backoffice")
	require.Error(t, err)
}

func TestSplitCommissionRequiresConsultant(t *testing.T) {
	f := newFixture(t)

	err := f.service.SplitCommission(&api.Commission{ID: "k1"})
	require.Error(t, err)
}
