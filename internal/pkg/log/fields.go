/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package log

import (
	"time"

	"go.uber.org/zap"
)

// Log fields.
const (
	FieldAddress        = "address"
	FieldActor          = "actor"
	FieldAuthVariant    = "auth-variant"
	FieldBatchID        = "batch-id"
	FieldCarrier        = "carrier"
	FieldCategory       = "category"
	FieldContentID      = "content-id"
	FieldDocumentCount  = "documents"
	FieldDuration       = "duration"
	FieldEmployeeID     = "employee-id"
	FieldFilename       = "filename"
	FieldHTTPStatus     = "http-status"
	FieldMonth          = "month"
	FieldParameter      = "parameter"
	FieldRetryAttempt   = "retry-attempt"
	FieldRevision       = "revision"
	FieldRow            = "row"
	FieldServiceName    = "service"
	FieldShipmentID     = "shipment-id"
	FieldSize           = "size"
	FieldStatus         = "status"
	FieldStoreName      = "store"
	FieldTaskID         = "task-id"
	FieldTopic          = "topic"
	FieldTotal          = "total"
	FieldVSNR           = "vsnr"
	FieldBucketWidth    = "bucket-width"
	FieldTokenExpiry    = "token-expiry"
	FieldCommissionID   = "commission-id"
	FieldContractID     = "contract-id"
	FieldSettlementID   = "settlement-id"
	FieldRateModelID    = "rate-model-id"
	FieldSheetName      = "sheet"
	FieldImportBatchRef = "import-batch"
)

// WithError sets the error field.
func WithError(err error) zap.Field {
	return zap.Error(err)
}

// WithAddress sets the address field.
func WithAddress(value string) zap.Field {
	return zap.String(FieldAddress, value)
}

// WithActor sets the actor field.
func WithActor(value string) zap.Field {
	return zap.String(FieldActor, value)
}

// WithAuthVariant sets the auth-variant field.
func WithAuthVariant(value string) zap.Field {
	return zap.String(FieldAuthVariant, value)
}

// WithBatchID sets the batch-id field.
func WithBatchID(value string) zap.Field {
	return zap.String(FieldBatchID, value)
}

// WithCarrier sets the carrier field.
func WithCarrier(value string) zap.Field {
	return zap.String(FieldCarrier, value)
}

// WithCategory sets the category field.
func WithCategory(value string) zap.Field {
	return zap.String(FieldCategory, value)
}

// WithContentID sets the content-id field.
func WithContentID(value string) zap.Field {
	return zap.String(FieldContentID, value)
}

// WithDocumentCount sets the documents field.
func WithDocumentCount(value int) zap.Field {
	return zap.Int(FieldDocumentCount, value)
}

// WithDuration sets the duration field.
func WithDuration(value time.Duration) zap.Field {
	return zap.Duration(FieldDuration, value)
}

// WithEmployeeID sets the employee-id field.
func WithEmployeeID(value string) zap.Field {
	return zap.String(FieldEmployeeID, value)
}

// WithFilename sets the filename field.
func WithFilename(value string) zap.Field {
	return zap.String(FieldFilename, value)
}

// WithHTTPStatus sets the http-status field.
func WithHTTPStatus(value int) zap.Field {
	return zap.Int(FieldHTTPStatus, value)
}

// WithMonth sets the month field.
func WithMonth(value string) zap.Field {
	return zap.String(FieldMonth, value)
}

// WithParameter sets the parameter field.
func WithParameter(value string) zap.Field {
	return zap.String(FieldParameter, value)
}

// WithRetryAttempt sets the retry-attempt field.
func WithRetryAttempt(value int) zap.Field {
	return zap.Int(FieldRetryAttempt, value)
}

// WithRevision sets the revision field.
func WithRevision(value int) zap.Field {
	return zap.Int(FieldRevision, value)
}

// WithRow sets the row field.
func WithRow(value int) zap.Field {
	return zap.Int(FieldRow, value)
}

// WithServiceName sets the service field.
func WithServiceName(value string) zap.Field {
	return zap.String(FieldServiceName, value)
}

// WithShipmentID sets the shipment-id field.
func WithShipmentID(value string) zap.Field {
	return zap.String(FieldShipmentID, value)
}

// WithSize sets the size field.
func WithSize(value int) zap.Field {
	return zap.Int(FieldSize, value)
}

// WithStatus sets the status field.
func WithStatus(value string) zap.Field {
	return zap.String(FieldStatus, value)
}

// WithStoreName sets the store field.
func WithStoreName(value string) zap.Field {
	return zap.String(FieldStoreName, value)
}

// WithTaskID sets the task-id field.
func WithTaskID(value string) zap.Field {
	return zap.String(FieldTaskID, value)
}

// WithTopic sets the topic field.
func WithTopic(value string) zap.Field {
	return zap.String(FieldTopic, value)
}

// WithTotal sets the total field.
func WithTotal(value int) zap.Field {
	return zap.Int(FieldTotal, value)
}

// WithVSNR sets the vsnr field.
func WithVSNR(value string) zap.Field {
	return zap.String(FieldVSNR, value)
}

// WithBucketWidth sets the bucket-width field.
func WithBucketWidth(value float64) zap.Field {
	return zap.Float64(FieldBucketWidth, value)
}

// WithTokenExpiry sets the token-expiry field.
func WithTokenExpiry(value time.Time) zap.Field {
	return zap.Time(FieldTokenExpiry, value)
}

// WithCommissionID sets the commission-id field.
func WithCommissionID(value string) zap.Field {
	return zap.String(FieldCommissionID, value)
}

// WithContractID sets the contract-id field.
func WithContractID(value string) zap.Field {
	return zap.String(FieldContractID, value)
}

// WithSettlementID sets the settlement-id field.
func WithSettlementID(value string) zap.Field {
	return zap.String(FieldSettlementID, value)
}

// WithRateModelID sets the rate-model-id field.
func WithRateModelID(value string) zap.Field {
	return zap.String(FieldRateModelID, value)
}

// WithSheetName sets the sheet field.
func WithSheetName(value string) zap.Field {
	return zap.String(FieldSheetName, value)
}
