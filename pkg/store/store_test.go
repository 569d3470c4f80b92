/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"testing"

	"github.com/hyperledger/aries-framework-go/component/storageutil/mem"
	"github.com/hyperledger/aries-framework-go/spi/storage"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	provider := mem.NewProvider()

	s, err := Open(provider, "test-store",
		NewTagGroup("carrier"), NewTagGroup("carrier", "month"))
	require.NoError(t, err)
	require.NotNil(t, s)

	config, err := provider.GetStoreConfig("test-store")
	require.NoError(t, err)

	// Tags are deduplicated across groups.
	require.Equal(t, []string{"carrier", "month"}, config.TagNames)
}

func TestOpenAndQuery(t *testing.T) {
	provider := mem.NewProvider()

	s, err := Open(provider, "test-store", NewTagGroup("carrier"))
	require.NoError(t, err)

	require.NoError(t, s.Put("k1", []byte(`{"carrier":"Barmenia"}`),
		storage.Tag{Name: "carrier", Value: "Barmenia"}))
	require.NoError(t, s.Put("k2", []byte(`{"carrier":"Continentale"}`),
		storage.Tag{Name: "carrier", Value: "Continentale"}))

	it, err := s.Query("carrier:Barmenia")
	require.NoError(t, err)

	defer CloseIterator(it)

	ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)

	value, err := it.Value()
	require.NoError(t, err)
	require.JSONEq(t, `{"carrier":"Barmenia"}`, string(value))

	ok, err = it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUniqueTags(t *testing.T) {
	tags := uniqueTags([]TagGroup{{"a", "b"}, {"b", "c"}, {"a"}})
	require.Equal(t, []string{"a", "b", "c"}, tags)
}
