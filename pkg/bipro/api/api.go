/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package api contains the types shared by the BiPRO transfer pipeline: carrier identity,
// credentials, security tokens and shipments.
package api

import (
	"time"
)

// AuthVariant identifies one of the authentication schemes supported by carrier
// security token services.
type AuthVariant string

// The eight authentication variants found across carriers.
const (
	// VariantWeak presents username and password in a wsse:UsernameToken.
	VariantWeak AuthVariant = "weak"

	// VariantStrong is VariantWeak with a one-time password appended to the password.
	VariantStrong AuthVariant = "strong"

	// VariantCertificate skips the STS entirely and authenticates the transport with a
	// client certificate.
	VariantCertificate AuthVariant = "certificate"

	// VariantTicket presents a broker-portal ticket as a SAML assertion.
	VariantTicket AuthVariant = "ticket"

	// VariantTicketOTP is VariantTicket with a one-time password as second factor.
	VariantTicketOTP AuthVariant = "ticket-otp"

	// VariantTicketCert is VariantTicket with an X.509 signature as second factor.
	VariantTicketCert AuthVariant = "ticket-cert"

	// VariantTGICCert presents a TGIC group-federation token with an X.509 signature.
	VariantTGICCert AuthVariant = "tgic-cert"

	// VariantTGICMTAN presents a TGIC group-federation token with an mTAN code.
	VariantTGICMTAN AuthVariant = "tgic-mtan"
)

// AllVariants lists every known authentication variant.
func AllVariants() []AuthVariant {
	return []AuthVariant{
		VariantWeak, VariantStrong, VariantCertificate, VariantTicket,
		VariantTicketOTP, VariantTicketCert, VariantTGICCert, VariantTGICMTAN,
	}
}

// IsValid returns true if this is a known authentication variant.
func (v AuthVariant) IsValid() bool {
	for _, known := range AllVariants() {
		if v == known {
			return true
		}
	}

	return false
}

// RequiresCertificate returns true if the variant needs X.509 key material.
func (v AuthVariant) RequiresCertificate() bool {
	return v == VariantCertificate || v == VariantTicketCert || v == VariantTGICCert
}

// String returns the variant fingerprint used in token cache keys and logs.
func (v AuthVariant) String() string {
	return string(v)
}

// Timeouts holds the per-call timeouts for one carrier.
type Timeouts struct {
	Connect     time.Duration
	Read        time.Duration
	Acknowledge time.Duration
}

// DefaultTimeouts returns the default per-call timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connect:     10 * time.Second,
		Read:        120 * time.Second,
		Acknowledge: 30 * time.Second,
	}
}

// Carrier describes one insurance carrier's BiPRO endpoints and capabilities.
type Carrier struct {
	// Name is the stable carrier name used as cache key, metrics label and store tag.
	Name string `json:"name"`

	// STSURL is the security token service endpoint.
	STSURL string `json:"stsUrl"`

	// TransferURL is the TransferService endpoint.
	TransferURL string `json:"transferUrl"`

	// ExtranetURL is the optional carrier extranet endpoint.
	ExtranetURL string `json:"extranetUrl,omitempty"`

	// ConsumerID is the optional consumer identifier sent in request headers.
	ConsumerID string `json:"consumerId,omitempty"`

	// Variants lists the authentication variants the carrier supports.
	Variants []AuthVariant `json:"variants"`

	// TicketSource is the optional EasyLogin ticket source identifier.
	TicketSource string `json:"ticketSource,omitempty"`

	// Timeouts overrides the default per-call timeouts when non-zero.
	Timeouts Timeouts `json:"timeouts,omitempty"`
}

// Supports returns true if the carrier supports the given authentication variant.
func (c *Carrier) Supports(v AuthVariant) bool {
	for _, supported := range c.Variants {
		if v == supported {
			return true
		}
	}

	return false
}

// KeystoreFormat is the container format of X.509 key material.
type KeystoreFormat string

// Supported keystore formats.
const (
	KeystorePFX KeystoreFormat = "pfx"
	KeystoreJKS KeystoreFormat = "jks"
)

// Credentials holds the secrets presented to a carrier STS. The passphrase is held in
// memory only for the duration of a session and must never be persisted.
type Credentials struct {
	Username string
	Password string
	OTP      string
	Ticket   string
	TGIC     string
	MTAN     string

	Keystore       []byte
	KeystoreFormat KeystoreFormat
	Passphrase     string
}

// ExpirySkew is subtracted from a token's expiry when checking validity, so that a token
// is refreshed before the carrier starts rejecting it.
const ExpirySkew = time.Minute

// Token is an issued security token. The assertion bytes are opaque; they are echoed into
// the wsse:Security header of subsequent TransferService calls.
type Token struct {
	Assertion []byte
	IssuedAt  time.Time
	ExpiresAt time.Time
	Carrier   string
	Variant   AuthVariant
}

// ValidAt returns true if the token is valid at the given time, accounting for the
// expiry skew.
func (t *Token) ValidAt(now time.Time) bool {
	if t == nil {
		return false
	}

	return !now.Before(t.IssuedAt) && now.Before(t.ExpiresAt.Add(-ExpirySkew))
}

// ShipmentInfo describes one shipment available for download. A shipment is immutable
// once returned by the carrier.
type ShipmentInfo struct {
	// ID is the carrier-assigned shipment identifier (opaque).
	ID string

	// Category is the 9-digit hierarchical BiPRO category code.
	Category string

	// CreatedAt is the carrier-side creation timestamp.
	CreatedAt time.Time

	// Confirmed is false while the shipment is awaiting download.
	Confirmed bool
}

// Document is one document carried in a shipment. Content is either inline or resolved
// from an MTOM reference.
type Document struct {
	// Filename is the original filename. May be empty.
	Filename string

	// MIMEType is the declared media type.
	MIMEType string

	// Content is the payload.
	Content []byte

	// Missing is set when the document referenced an MTOM part that was absent from the
	// multipart response. A shipment containing a missing document must not be acknowledged.
	Missing bool
}

// ShipmentContent is the downloaded content of one shipment.
type ShipmentContent struct {
	ShipmentID  string
	Carrier     string
	Documents   []Document
	RawEnvelope []byte
}

// HasMissingDocuments returns true if any document could not be resolved from the
// multipart response.
func (c *ShipmentContent) HasMissingDocuments() bool {
	for _, doc := range c.Documents {
		if doc.Missing {
			return true
		}
	}

	return false
}
