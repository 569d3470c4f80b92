/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ratemodel

import (
	"testing"
	"time"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/stretchr/testify/require"

	"github.com/maklerhaus/atlas/pkg/commission/api"
)

func TestVersionOrdering(t *testing.T) {
	s, err := New(mem.NewProvider())
	require.NoError(t, err)

	require.NoError(t, s.Put(&api.CommissionModel{
		ID: "m2", Name: "Standard", CommissionRate: 75,
		EffectiveFrom: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Active: true,
	}))
	require.NoError(t, s.Put(&api.CommissionModel{
		ID: "m1", Name: "Standard", CommissionRate: 70,
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Active: true,
	}))
	require.NoError(t, s.Put(&api.CommissionModel{
		ID: "m3", Name: "Premium", CommissionRate: 80,
		EffectiveFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Active: true,
	}))

	versions, err := s.GetVersions("Standard")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, "m1", versions[0].ID)
	require.Equal(t, "m2", versions[1].ID)

	got, err := s.Get("m3")
	require.NoError(t, err)
	require.Equal(t, "Premium", got.Name)
}
