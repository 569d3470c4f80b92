/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cmdutil

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("host-url", "", "")
	cmd.Flags().StringArray("carriers", nil, "")

	return cmd
}

func TestGetString(t *testing.T) {
	t.Run("from flag", func(t *testing.T) {
		cmd := newTestCmd()
		require.NoError(t, cmd.Flags().Set("host-url", "localhost:8080"))

		value, err := GetString(cmd, "host-url", "TEST_HOST_URL", false)
		require.NoError(t, err)
		require.Equal(t, "localhost:8080", value)
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv("TEST_HOST_URL", "localhost:9090")

		value, err := GetString(newTestCmd(), "host-url", "TEST_HOST_URL", false)
		require.NoError(t, err)
		require.Equal(t, "localhost:9090", value)
	})

	t.Run("neither set", func(t *testing.T) {
		_, err := GetString(newTestCmd(), "host-url", "TEST_HOST_URL_UNSET", false)
		require.Error(t, err)
		require.Contains(t, err.Error(), "have been set")
	})

	t.Run("optional", func(t *testing.T) {
		require.Empty(t, GetOptionalString(newTestCmd(), "host-url", "TEST_HOST_URL_UNSET"))
	})
}

func TestGetOptionalDuration(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		value, err := GetOptionalDuration(newTestCmd(), "host-url", "TEST_UNSET", 10*time.Second)
		require.NoError(t, err)
		require.Equal(t, 10*time.Second, value)
	})

	t.Run("from env", func(t *testing.T) {
		t.Setenv("TEST_TIMEOUT", "30s")

		value, err := GetOptionalDuration(newTestCmd(), "host-url", "TEST_TIMEOUT", time.Second)
		require.NoError(t, err)
		require.Equal(t, 30*time.Second, value)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Setenv("TEST_TIMEOUT", "not-a-duration")

		_, err := GetOptionalDuration(newTestCmd(), "host-url", "TEST_TIMEOUT", time.Second)
		require.Error(t, err)
	})
}

func TestGetOptionalInt(t *testing.T) {
	t.Setenv("TEST_COUNT", "7")

	value, err := GetOptionalInt(newTestCmd(), "host-url", "TEST_COUNT", 3)
	require.NoError(t, err)
	require.Equal(t, 7, value)

	value, err = GetOptionalInt(newTestCmd(), "host-url", "TEST_COUNT_UNSET", 3)
	require.NoError(t, err)
	require.Equal(t, 3, value)
}
