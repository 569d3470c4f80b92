/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package cmdutil

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// GetOptionalString returns the value of either the command line flag or the environment variable.
// An empty string is returned if neither is set.
func GetOptionalString(cmd *cobra.Command, flagName, envKey string) string {
	v, _ := GetString(cmd, flagName, envKey, true) //nolint:errcheck // no error for optional var

	return v
}

// GetString returns the value of either the command line flag or the environment variable.
func GetString(cmd *cobra.Command, flagName, envKey string, isOptional bool) (string, error) {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetString(flagName)
		if err != nil {
			return "", fmt.Errorf("%s flag not found: %w", flagName, err)
		}

		if value == "" {
			return "", fmt.Errorf("%s value is empty", flagName)
		}

		return value, nil
	}

	value, isSet := os.LookupEnv(envKey)

	if isOptional || isSet {
		if !isOptional && value == "" {
			return "", fmt.Errorf("%s value is empty", envKey)
		}

		return value, nil
	}

	return "", errors.New("neither " + flagName + " (command line flag) nor " + envKey +
		" (environment variable) have been set")
}

// GetOptionalStringArray returns the values of either the command line flag or the
// comma-separated environment variable.
func GetOptionalStringArray(cmd *cobra.Command, flagName, envKey string) []string {
	if cmd.Flags().Changed(flagName) {
		value, err := cmd.Flags().GetStringArray(flagName)
		if err != nil {
			return nil
		}

		return value
	}

	value, isSet := os.LookupEnv(envKey)
	if !isSet || value == "" {
		return nil
	}

	return strings.Split(value, ",")
}

// GetOptionalDuration returns the duration value of either the command line flag or the
// environment variable, or the given default if neither is set.
func GetOptionalDuration(cmd *cobra.Command, flagName, envKey string, defaultValue time.Duration) (time.Duration, error) {
	str := GetOptionalString(cmd, flagName, envKey)
	if str == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(str)
	if err != nil {
		return 0, fmt.Errorf("invalid value [%s] for parameter [%s]: %w", str, flagName, err)
	}

	return value, nil
}

// GetOptionalInt returns the int value of either the command line flag or the environment
// variable, or the given default if neither is set.
func GetOptionalInt(cmd *cobra.Command, flagName, envKey string, defaultValue int) (int, error) {
	str := GetOptionalString(cmd, flagName, envKey)
	if str == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("invalid value [%s] for parameter [%s]: %w", str, flagName, err)
	}

	return value, nil
}
