/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package match

import (
	"context"
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/maklerhaus/atlas/pkg/commission/api"
	"github.com/maklerhaus/atlas/pkg/errors"
	auditstore "github.com/maklerhaus/atlas/pkg/store/auditlog"
	commissionstore "github.com/maklerhaus/atlas/pkg/store/commission"
	contractstore "github.com/maklerhaus/atlas/pkg/store/contract"
	mappingstore "github.com/maklerhaus/atlas/pkg/store/mapping"
)

type fixture struct {
	contracts   *contractstore.Store
	mappings    *mappingstore.Store
	commissions *commissionstore.Store
	audit       *auditstore.Store
	service     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	provider := mem.NewProvider()

	contracts, err := contractstore.New(provider)
	require.NoError(t, err)

	mappings, err := mappingstore.New(provider)
	require.NoError(t, err)

	commissions, err := commissionstore.New(provider)
	require.NoError(t, err)

	audit, err := auditstore.New(provider)
	require.NoError(t, err)

	return &fixture{
		contracts:   contracts,
		mappings:    mappings,
		commissions: commissions,
		audit:       audit,
		service:     New(contracts, mappings, commissions, audit, WithWorkers(2)),
	}
}

func (f *fixture) addCommission(t *testing.T, c *api.Commission) {
	t.Helper()

	if c.PayoutDate.IsZero() {
		c.PayoutDate = time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	}

	if c.MatchStatus == "" {
		c.MatchStatus = api.MatchUnmatched
	}

	require.NoError(t, f.commissions.Put(c))
}

func TestMatchBatchOutcomes(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.contracts.Put(&api.Contract{
		ID: "c1", VSNRNormalized: "12345", Status: api.ContractOpen, Origin: api.OriginXempus,
	}))
	require.NoError(t, f.mappings.Put(&api.IntermediaryMapping{
		ID: "m1", Name: "WEISS (HANS)", NameNormalized: "weiss hans", EmployeeID: "e1",
	}))

	// Contract and consultant both resolve.
	f.addCommission(t, &api.Commission{
		ID: "k1", VSNRNormalized: "12345", IntermediaryName: "WEISS (HANS)", BatchID: "b1",
	})
	// Contract resolves, consultant does not: still auto-matched, goes to clearance.
	f.addCommission(t, &api.Commission{
		ID: "k2", VSNRNormalized: "12345", IntermediaryName: "Unbekannt", BatchID: "b1",
	})
	// No contract: unmatched even though the consultant resolves.
	f.addCommission(t, &api.Commission{
		ID: "k3", VSNRNormalized: "99999", IntermediaryName: "WEISS (HANS)", BatchID: "b1",
	})

	result, err := f.service.MatchBatch(context.Background(), "b1")
	require.NoError(t, err)
	require.Equal(t, 3, result.Total)
	require.Equal(t, 2, result.Matched)
	require.Equal(t, 2, result.WithOwner)
	require.Equal(t, 1, result.Unmatched)

	k1, err := f.commissions.Get("k1")
	require.NoError(t, err)
	require.Equal(t, api.MatchAuto, k1.MatchStatus)
	require.Equal(t, "c1", k1.ContractID)
	require.Equal(t, "e1", k1.ConsultantID)
	require.InDelta(t, 1.0, k1.MatchConfidence, 0.0001)

	k2, err := f.commissions.Get("k2")
	require.NoError(t, err)
	require.Equal(t, api.MatchAuto, k2.MatchStatus)
	require.Empty(t, k2.ConsultantID)

	k3, err := f.commissions.Get("k3")
	require.NoError(t, err)
	require.Equal(t, api.MatchUnmatched, k3.MatchStatus)
	require.Equal(t, "e1", k3.ConsultantID)
}

func TestAmbiguousVSNRStaysUnmatched(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.contracts.Put(&api.Contract{ID: "c1", VSNRNormalized: "12345"}))
	require.NoError(t, f.contracts.Put(&api.Contract{ID: "c2", VSNRNormalized: "12345"}))

	f.addCommission(t, &api.Commission{ID: "k1", VSNRNormalized: "12345", BatchID: "b1"})

	result, err := f.service.MatchBatch(context.Background(), "b1")
	require.NoError(t, err)
	require.Equal(t, 1, result.Unmatched)

	k1, err := f.commissions.Get("k1")
	require.NoError(t, err)
	require.Equal(t, api.MatchUnmatched, k1.MatchStatus)
	require.Empty(t, k1.ContractID)
}

func TestRerunIsIdempotent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.contracts.Put(&api.Contract{ID: "c1", VSNRNormalized: "12345"}))

	f.addCommission(t, &api.Commission{ID: "k1", VSNRNormalized: "12345", BatchID: "b1"})

	_, err := f.service.MatchBatch(context.Background(), "b1")
	require.NoError(t, err)

	result, err := f.service.Rerun(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Matched)

	// The second run changes nothing, so exactly one audit entry exists.
	entries, err := f.audit.GetByEntity("commission", "k1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "auto_matched", entries[0].Action)
}

func TestRerunPicksUpNewContracts(t *testing.T) {
	f := newFixture(t)

	f.addCommission(t, &api.Commission{ID: "k1", VSNRNormalized: "12345", BatchID: "b1"})

	result, err := f.service.MatchBatch(context.Background(), "b1")
	require.NoError(t, err)
	require.Equal(t, 1, result.Unmatched)

	require.NoError(t, f.contracts.Put(&api.Contract{ID: "c1", VSNRNormalized: "12345"}))

	result, err = f.service.Rerun(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Matched)

	k1, err := f.commissions.Get("k1")
	require.NoError(t, err)
	require.Equal(t, "c1", k1.ContractID)
}

func TestManualAndIgnoredRowsAreSkipped(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.contracts.Put(&api.Contract{ID: "c1", VSNRNormalized: "12345"}))

	f.addCommission(t, &api.Commission{
		ID: "k1", VSNRNormalized: "12345", BatchID: "b1",
		MatchStatus: api.MatchManual, ContractID: "c9",
	})
	f.addCommission(t, &api.Commission{
		ID: "k2", VSNRNormalized: "12345", BatchID: "b1", MatchStatus: api.MatchIgnored,
	})

	result, err := f.service.MatchBatch(context.Background(), "b1")
	require.NoError(t, err)
	require.Equal(t, 2, result.Skipped)

	k1, err := f.commissions.Get("k1")
	require.NoError(t, err)
	require.Equal(t, "c9", k1.ContractID)
	require.Equal(t, api.MatchManual, k1.MatchStatus)
}

func TestManualAssignments(t *testing.T) {
	f := newFixture(t)

	f.addCommission(t, &api.Commission{ID: "k1", VSNRNormalized: "12345", BatchID: "b1"})

	require.NoError(t, f.service.AssignContract("k1", "c7", "sachbearbeiter"))

	k1, err := f.commissions.Get("k1")
	require.NoError(t, err)
	require.Equal(t, api.MatchManual, k1.MatchStatus)
	require.Equal(t, "c7", k1.ContractID)

	require.NoError(t, f.service.AssignConsultant("k1", "e5", "sachbearbeiter"))

	k1, err = f.commissions.Get("k1")
	require.NoError(t, err)
	require.Equal(t, "e5", k1.ConsultantID)

	entries, err := f.audit.GetByEntity("commission", "k1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "contract_assigned", entries[0].Action)
	require.Equal(t, "consultant_assigned", entries[1].Action)
}

func TestConsultantOverrideSurvivesRerun(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.contracts.Put(&api.Contract{ID: "c1", VSNRNormalized: "12345"}))
	require.NoError(t, f.mappings.Put(&api.IntermediaryMapping{
		ID: "m1", Name: "WEISS (HANS)", NameNormalized: "weiss hans", EmployeeID: "e1",
	}))

	f.addCommission(t, &api.Commission{
		ID: "k1", VSNRNormalized: "12345", IntermediaryName: "WEISS (HANS)", BatchID: "b1",
	})

	_, err := f.service.MatchBatch(context.Background(), "b1")
	require.NoError(t, err)

	k1, err := f.commissions.Get("k1")
	require.NoError(t, err)
	require.Equal(t, api.MatchAuto, k1.MatchStatus)
	require.Equal(t, "e1", k1.ConsultantID)

	// A human moves the row to a different consultant. The override turns the row
	// manual, so a later run must not re-resolve the intermediary mapping.
	require.NoError(t, f.service.AssignConsultant("k1", "e2", "sachbearbeiter"))

	k1, err = f.commissions.Get("k1")
	require.NoError(t, err)
	require.Equal(t, api.MatchManual, k1.MatchStatus)

	_, err = f.service.Rerun(context.Background())
	require.NoError(t, err)

	k1, err = f.commissions.Get("k1")
	require.NoError(t, err)
	require.Equal(t, "e2", k1.ConsultantID)
	require.Equal(t, api.MatchManual, k1.MatchStatus)
}

func TestIgnoreIsTerminal(t *testing.T) {
	f := newFixture(t)

	f.addCommission(t, &api.Commission{ID: "k1", VSNRNormalized: "12345", BatchID: "b1"})

	require.NoError(t, f.service.Ignore("k1", "sachbearbeiter"))

	err := f.service.AssignContract("k1", "c1", "sachbearbeiter")
	require.Error(t, err)
	require.True(t, errors.IsBadRequest(err))

	err = f.service.AssignConsultant("k1", "e1", "sachbearbeiter")
	require.Error(t, err)
	require.True(t, errors.IsBadRequest(err))

	// Ignoring twice is a no-op, not an error.
	require.NoError(t, f.service.Ignore("k1", "sachbearbeiter"))

	entries, err := f.audit.GetByEntity("commission", "k1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestClearance(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.contracts.Put(&api.Contract{ID: "c1", VSNRNormalized: "12345"}))
	require.NoError(t, f.mappings.Put(&api.IntermediaryMapping{
		ID: "m1", Name: "WEISS", NameNormalized: "weiss", EmployeeID: "e1",
	}))

	f.addCommission(t, &api.Commission{
		ID: "k1", VSNRNormalized: "12345", IntermediaryName: "WEISS", BatchID: "b1",
	})
	f.addCommission(t, &api.Commission{ID: "k2", VSNRNormalized: "12345", BatchID: "b1"})
	f.addCommission(t, &api.Commission{ID: "k3", VSNRNormalized: "99999", BatchID: "b1"})

	_, err := f.service.MatchBatch(context.Background(), "b1")
	require.NoError(t, err)

	pending, err := f.service.Clearance()
	require.NoError(t, err)
	require.Len(t, pending, 2)

	ids := map[string]bool{}
	for _, commission := range pending {
		ids[commission.ID] = true
	}

	require.True(t, ids["k2"])
	require.True(t, ids["k3"])
}

func TestMatchBatchCancelled(t *testing.T) {
	f := newFixture(t)

	f.addCommission(t, &api.Commission{ID: "k1", VSNRNormalized: "12345", BatchID: "b1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.MatchBatch(ctx, "b1")
	require.ErrorIs(t, err, errors.ErrCancelled)
}
