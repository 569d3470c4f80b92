/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sheet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/maklerhaus/atlas/pkg/commission/api"
)

// RowHash is the per-row fingerprint used for dedup across import batches. It covers the
// semantic fields only, so the same row hashes identically regardless of sheet column
// ordering.
func RowHash(carrier, vsnrNormalized string, amountCents int64, payoutDate time.Time,
	kind api.CommissionKind) string {
	input := strings.Join([]string{
		carrier,
		vsnrNormalized,
		amountString(amountCents),
		payoutDate.Format("2006-01-02"),
		string(kind),
	}, "|")

	digest := sha256.Sum256([]byte(input))

	return hex.EncodeToString(digest[:])
}

// amountString renders cents as a fixed two-decimal string.
func amountString(cents int64) string {
	sign := ""

	if cents < 0 {
		sign = "-"
		cents = -cents
	}

	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
