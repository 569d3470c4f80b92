/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"go.uber.org/zap"
)

// InvalidParameterValue outputs an 'invalid parameter' log to the given logger.
func InvalidParameterValue(l *Log, param string, err error) {
	l.WithOptions(zap.AddCallerSkip(1)).Error("Invalid parameter value", WithParameter(param), WithError(err))
}

// CloseIteratorError outputs a 'close iterator' error log to the given logger. Does
// nothing if err is nil.
func CloseIteratorError(l *Log, err error) {
	if err == nil {
		return
	}

	l.WithOptions(zap.AddCallerSkip(1)).Warn("Error closing iterator", WithError(err))
}

// CloseResponseBodyError outputs a 'close response body' error log to the given logger.
// Does nothing if err is nil.
func CloseResponseBodyError(l *Log, err error) {
	if err == nil {
		return
	}

	l.WithOptions(zap.AddCallerSkip(1)).Warn("Error closing response body", WithError(err))
}
