/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package archive is the port to the external document archive. The archive itself is a
// plain CRUD store that deduplicates by content hash; uploading byte-identical content is
// idempotent and returns the existing document.
package archive

import (
	"context"
	"time"
)

// SourceType records where an archived document came from.
type SourceType string

// Known source types.
const (
	SourceBiPRO  SourceType = "bipro"
	SourceManual SourceType = "manual"
)

// BoxType is the archive box a document is filed into.
type BoxType string

// Known box types.
const (
	BoxInbox     BoxType = "inbox"
	BoxShipments BoxType = "shipments"
)

// Document is the archive's view of one stored document.
type Document struct {
	ID         string     `json:"id"`
	Filename   string     `json:"filename"`
	MIMEType   string     `json:"mimeType"`
	SHA256     string     `json:"sha256"`
	Size       int64      `json:"size"`
	SourceType SourceType `json:"sourceType"`
	BoxType    BoxType    `json:"boxType"`
	Archived   bool       `json:"archived"`
	UploadedAt time.Time  `json:"uploadedAt"`
}

// BoxStats summarizes the archive contents.
type BoxStats struct {
	Documents int            `json:"documents"`
	TotalSize int64          `json:"totalSize"`
	PerBox    map[string]int `json:"perBox"`
}

// ListFilter selects the documents returned by List.
type ListFilter struct {
	BoxType  BoxType
	Archived *bool
}

// Store is the archive port consumed by the transfer pipeline.
type Store interface {
	// Upload stores content under the given filename. Upload is idempotent by content
	// hash; re-uploading identical bytes returns the already-stored document.
	Upload(ctx context.Context, filename string, content []byte,
		sourceType SourceType, boxType BoxType) (*Document, error)

	// Download returns the content of the document with the given ID.
	Download(ctx context.Context, docID string) ([]byte, error)

	// List returns the documents matching the filter.
	List(ctx context.Context, filter ListFilter) ([]Document, error)

	// Stats returns the archive statistics.
	Stats(ctx context.Context) (*BoxStats, error)
}
