/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package api contains the commission-domain value types. Entities are immutable values;
// state transitions create new values plus audit entries. All monetary amounts are
// integer cents.
package api

import (
	"encoding/json"
	"time"
)

// CommissionKind classifies a commission position.
type CommissionKind string

// Commission kinds. Initial (AP) is new-business commission, portfolio (BP) is recurring
// portfolio commission. Any negative amount is a chargeback regardless of booking code.
const (
	KindInitial    CommissionKind = "initial"
	KindPortfolio  CommissionKind = "portfolio"
	KindChargeback CommissionKind = "chargeback"
	KindOther      CommissionKind = "other"
)

// MatchStatus is the matching state of a commission.
type MatchStatus string

// Match statuses. Ignored is terminal.
const (
	MatchAuto      MatchStatus = "auto_matched"
	MatchManual    MatchStatus = "manual_matched"
	MatchUnmatched MatchStatus = "unmatched"
	MatchIgnored   MatchStatus = "ignored"
)

// ContractStatus is the lifecycle state of a contract.
type ContractStatus string

// Contract statuses.
const (
	ContractOpen      ContractStatus = "open"
	ContractApplied   ContractStatus = "applied"
	ContractClosed    ContractStatus = "closed"
	ContractCancelled ContractStatus = "cancelled"
)

// ContractOrigin records where a contract came from.
type ContractOrigin string

// Contract origins.
const (
	OriginManual ContractOrigin = "manual"
	OriginXempus ContractOrigin = "xempus"
)

// Role is an employee's role.
type Role string

// Employee roles.
const (
	RoleConsultant Role     = "consultant"
	RoleTeamLeader Role     = "team-leader"
	RoleBackOffice Role     = "back-office"
	RoleManager    Role     = "manager"
)

// TLBasis selects what the team-leader rate is applied to.
type TLBasis string

// Team-leader bases.
const (
	TLBasisConsultantShare TLBasis = "consultant-share"
	TLBasisGross           TLBasis = "gross"
)

// SourceType classifies an import batch's source.
type SourceType string

// Import source types.
const (
	SourceCarrierSheet   SourceType = "carrier-sheet"
	SourceXempus         SourceType = "xempus"
	SourceFreeCommission SourceType = "free-commission"
)

// Contract is an internal insurance contract.
type Contract struct {
	ID             string         `json:"id"`
	VSNR           string         `json:"vsnr"`
	VSNRNormalized string         `json:"vsnrNormalized"`
	Carrier        string         `json:"carrier"`
	Policyholder   string         `json:"policyholder"`
	Branch         string         `json:"branch,omitempty"`
	PremiumCents   int64          `json:"premiumCents,omitempty"`
	Inception      time.Time      `json:"inception,omitempty"`
	ConsultantID   string         `json:"consultantId,omitempty"`
	Status         ContractStatus `json:"status"`
	Origin         ContractOrigin `json:"origin"`
	XempusID       string         `json:"xempusId,omitempty"`
	ProvisionCount int            `json:"provisionCount,omitempty"`
	ProvisionCents int64          `json:"provisionCents,omitempty"`
}

// Split holds the three shares of a commission amount in cents. The shares always sum to
// the gross amount exactly.
type Split struct {
	ConsultantCents int64 `json:"consultantCents"`
	TeamLeaderCents int64 `json:"teamLeaderCents"`
	HouseCents      int64 `json:"houseCents"`
}

// TotalCents returns the sum of the three shares.
func (s *Split) TotalCents() int64 {
	return s.ConsultantCents + s.TeamLeaderCents + s.HouseCents
}

// Override is a manual amount override on a commission.
type Override struct {
	AmountCents int64  `json:"amountCents"`
	Reason      string `json:"reason"`
	Author      string `json:"author"`
}

// Commission is one imported commission position.
type Commission struct {
	ID               string         `json:"id"`
	ContractID       string         `json:"contractId,omitempty"`
	VSNR             string         `json:"vsnr"`
	VSNRNormalized   string         `json:"vsnrNormalized"`
	AmountCents      int64          `json:"amountCents"`
	Kind             CommissionKind `json:"kind"`
	PayoutDate       time.Time      `json:"payoutDate"`
	Carrier          string         `json:"carrier"`
	Policyholder     string         `json:"policyholder,omitempty"`
	IntermediaryName string         `json:"intermediaryName,omitempty"`
	ConsultantID     string         `json:"consultantId,omitempty"`
	MatchStatus      MatchStatus    `json:"matchStatus"`
	MatchConfidence  float64        `json:"matchConfidence,omitempty"`
	Split            *Split         `json:"split,omitempty"`
	BatchID          string         `json:"batchId"`
	BookingCode      string         `json:"bookingCode,omitempty"`
	ConditionsCode   string         `json:"conditionsCode,omitempty"`
	CommissionRate   float64        `json:"commissionRate,omitempty"`
	Relevant         bool           `json:"relevant"`
	RowHash          string         `json:"rowHash"`
	SourceRow        int            `json:"sourceRow"`
	Override         *Override      `json:"override,omitempty"`
	Note             string         `json:"note,omitempty"`
}

// EffectiveAmountCents returns the override amount if one is set, else the imported
// amount.
func (c *Commission) EffectiveAmountCents() int64 {
	if c.Override != nil {
		return c.Override.AmountCents
	}

	return c.AmountCents
}

// Employee is an internal employee taking part in commission splitting.
type Employee struct {
	ID                string   `json:"id"`
	UserID            string   `json:"userId,omitempty"`
	Name              string   `json:"name"`
	Role              Role     `json:"role"`
	CommissionModelID string   `json:"commissionModelId,omitempty"`
	RateOverride      *float64 `json:"rateOverride,omitempty"`
	TLOverrideRate    *float64 `json:"tlOverrideRate,omitempty"`
	TLOverrideBasis   *TLBasis `json:"tlOverrideBasis,omitempty"`
	TeamLeaderID      string   `json:"teamLeaderId,omitempty"`
	Active            bool     `json:"active"`
}

// CommissionModel is one version of a commission rate model. Model versions are selected
// by the latest effective-from date not after the commission's payout date.
type CommissionModel struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	CommissionRate float64   `json:"commissionRate"`
	TLRate         *float64  `json:"tlRate,omitempty"`
	TLBasis        TLBasis   `json:"tlBasis"`
	EffectiveFrom  time.Time `json:"effectiveFrom"`
	Active         bool      `json:"active"`
}

// IntermediaryMapping maps a normalized carrier-side intermediary name to an employee.
type IntermediaryMapping struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	NameNormalized string `json:"nameNormalized"`
	EmployeeID     string `json:"employeeId"`
}

// ImportBatch records one import run.
type ImportBatch struct {
	ID         string     `json:"id"`
	SourceType SourceType `json:"sourceType"`
	Carrier    string     `json:"carrier,omitempty"`
	Filename   string     `json:"filename"`
	Sheet      string     `json:"sheet,omitempty"`
	Total      int        `json:"total"`
	Imported   int        `json:"imported"`
	Matched    int        `json:"matched"`
	Skipped    int        `json:"skipped"`
	Errors     int        `json:"errors"`
	Importer   string     `json:"importer,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FileSHA256 string     `json:"fileSha256"`
}

// SettlementStatus is the state of a settlement.
type SettlementStatus string

// Settlement statuses.
const (
	SettlementDraft    SettlementStatus = "draft"
	SettlementReviewed SettlementStatus = "reviewed"
	SettlementReleased SettlementStatus = "released"
	SettlementPaid     SettlementStatus = "paid"
)

// CanTransitionTo returns true if the status machine allows the transition. The machine
// is draft, reviewed, released, paid in order, plus reviewed back to draft (un-review).
func (s SettlementStatus) CanTransitionTo(to SettlementStatus) bool {
	switch s {
	case SettlementDraft:
		return to == SettlementReviewed
	case SettlementReviewed:
		return to == SettlementReleased || to == SettlementDraft
	case SettlementReleased:
		return to == SettlementPaid
	default:
		return false
	}
}

// Settlement is the per-consultant, per-month payout snapshot.
type Settlement struct {
	ID                      string           `json:"id"`
	Month                   string           `json:"month"`
	EmployeeID              string           `json:"employeeId"`
	Revision                int              `json:"revision"`
	GrossCents              int64            `json:"grossCents"`
	TLDeductionCents        int64            `json:"tlDeductionCents"`
	NetCents                int64            `json:"netCents"`
	ChargebackCents         int64            `json:"chargebackCents"`
	PayoutCents             int64            `json:"payoutCents"`
	Positions               int              `json:"positions"`
	Status                  SettlementStatus `json:"status"`
	Locked                  bool             `json:"locked"`
	RegeneratedAfterRelease bool             `json:"regeneratedAfterRelease,omitempty"`
	GeneratedAt             time.Time        `json:"generatedAt"`
}

// Frozen returns true if the settlement must not be recomputed in place.
func (s *Settlement) Frozen() bool {
	return s.Locked || s.Status == SettlementReleased || s.Status == SettlementPaid
}

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     string          `json:"action"`
	Actor      string          `json:"actor"`
	CreatedAt  time.Time       `json:"createdAt"`
	Diff       json.RawMessage `json:"diff,omitempty"`
}

// MonthOf returns the settlement month key (YYYY-MM) of a date.
func MonthOf(t time.Time) string {
	return t.Format("2006-01")
}
