/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package observer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/maklerhaus/atlas/pkg/commission/api"
	"github.com/maklerhaus/atlas/pkg/commission/importer"
	"github.com/maklerhaus/atlas/pkg/commission/settlement"
	"github.com/maklerhaus/atlas/pkg/commission/split"
	"github.com/maklerhaus/atlas/pkg/pubsub/mempubsub"
	auditstore "github.com/maklerhaus/atlas/pkg/store/auditlog"
	commissionstore "github.com/maklerhaus/atlas/pkg/store/commission"
	employeestore "github.com/maklerhaus/atlas/pkg/store/employee"
	ratemodelstore "github.com/maklerhaus/atlas/pkg/store/ratemodel"
	settlementstore "github.com/maklerhaus/atlas/pkg/store/settlement"
)

func TestObserver(t *testing.T) {
	provider := mem.NewProvider()

	commissions, err := commissionstore.New(provider)
	require.NoError(t, err)

	employees, err := employeestore.New(provider)
	require.NoError(t, err)

	models, err := ratemodelstore.New(provider)
	require.NoError(t, err)

	settlements, err := settlementstore.New(provider)
	require.NoError(t, err)

	audit, err := auditstore.New(provider)
	require.NoError(t, err)

	pubSub := mempubsub.New(mempubsub.DefaultConfig())
	t.Cleanup(func() {
		require.NoError(t, pubSub.Close())
	})

	settlementSvc := settlement.New(commissions, settlements, audit)
	splitter := split.New(employees, models, commissions, settlements, settlementSvc, audit)

	require.NoError(t, models.Put(&api.CommissionModel{
		ID: "m1", Name: "Standard", CommissionRate: 70,
		TLBasis: api.TLBasisConsultantShare,
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Active: true,
	}))

	require.NoError(t, employees.Put(&api.Employee{
		ID: "e1", Name: "Hans Weiss", Role: api.RoleConsultant,
		CommissionModelID: "m1", Active: true,
	}))

	// One matched row that the observer must split, one without an owner that it must
	// leave alone.
	require.NoError(t, commissions.Put(&api.Commission{
		ID: "k1", ConsultantID: "e1", AmountCents: 10000, Kind: api.KindInitial,
		PayoutDate:  time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		MatchStatus: api.MatchAuto, BatchID: "b1", RowHash: "k1", Relevant: true,
	}))
	require.NoError(t, commissions.Put(&api.Commission{
		ID: "k2", AmountCents: 5000, Kind: api.KindInitial,
		PayoutDate:  time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
		MatchStatus: api.MatchUnmatched, BatchID: "b1", RowHash: "k2", Relevant: true,
	}))

	obs, err := New(commissions, splitter, settlementSvc, pubSub)
	require.NoError(t, err)

	obs.Start()

	payload, err := json.Marshal(importer.ImportCompletedEvent{
		BatchID:    "b1",
		SourceType: api.SourceCarrierSheet,
		Imported:   2,
	})
	require.NoError(t, err)

	require.NoError(t, pubSub.Publish(importer.ImportCompletedTopic,
		message.NewMessage(uuid.New().String(), payload)))

	require.Eventually(t, func() bool {
		k1, err := commissions.Get("k1")
		if err != nil || k1.Split == nil {
			return false
		}

		generated, err := settlements.GetByMonth("2025-02")

		return err == nil && len(generated) == 1
	}, 3*time.Second, 20*time.Millisecond)

	k1, err := commissions.Get("k1")
	require.NoError(t, err)
	require.EqualValues(t, 7000, k1.Split.ConsultantCents)

	k2, err := commissions.Get("k2")
	require.NoError(t, err)
	require.Nil(t, k2.Split)

	generated, err := settlements.GetByMonth("2025-02")
	require.NoError(t, err)
	require.EqualValues(t, 7000, generated[0].PayoutCents)
}
