/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sts

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/require"

	"github.com/maklerhaus/atlas/pkg/bipro/api"
	"github.com/maklerhaus/atlas/pkg/errors"
)

func TestBuildRequestSecurityTokenWeak(t *testing.T) {
	carrier := newTestCarrier(api.VariantWeak)

	envelope, err := buildRequestSecurityToken(carrier, api.VariantWeak,
		api.Credentials{Username: "broker-7", Password: "secret"}, nil, time.Now())
	require.NoError(t, err)

	doc := parseDoc(t, envelope)

	username := findLocal(doc.Root(), "Username")
	require.NotNil(t, username)
	require.Equal(t, "broker-7", username.Text())

	password := findLocal(doc.Root(), "Password")
	require.NotNil(t, password)
	require.Equal(t, "secret", password.Text())

	require.NotNil(t, findLocal(doc.Root(), "Timestamp"))
	require.NotNil(t, findLocal(doc.Root(), "RequestSecurityToken"))

	address := findLocal(doc.Root(), "Address")
	require.NotNil(t, address)
	require.Equal(t, carrier.TransferURL, address.Text())
}

func TestBuildRequestSecurityTokenStrong(t *testing.T) {
	carrier := newTestCarrier(api.VariantStrong)

	envelope, err := buildRequestSecurityToken(carrier, api.VariantStrong,
		api.Credentials{Username: "broker-7", Password: "secret", OTP: "123456"}, nil, time.Now())
	require.NoError(t, err)

	doc := parseDoc(t, envelope)

	password := findLocal(doc.Root(), "Password")
	require.NotNil(t, password)
	require.Equal(t, "secret123456", password.Text())
}

func TestBuildRequestSecurityTokenTicket(t *testing.T) {
	carrier := newTestCarrier(api.VariantTicket)

	envelope, err := buildRequestSecurityToken(carrier, api.VariantTicket,
		api.Credentials{Ticket: "portal-ticket-xyz"}, nil, time.Now())
	require.NoError(t, err)

	doc := parseDoc(t, envelope)

	assertion := findLocal(doc.Root(), "Assertion")
	require.NotNil(t, assertion)

	value := findLocal(assertion, "AttributeValue")
	require.NotNil(t, value)
	require.Equal(t, "portal-ticket-xyz", value.Text())
}

func TestBuildRequestSecurityTokenSigned(t *testing.T) {
	carrier := newTestCarrier(api.VariantTGICCert)

	keyPair := newTestKeyPair(t)

	envelope, err := buildRequestSecurityToken(carrier, api.VariantTGICCert,
		api.Credentials{TGIC: "tgic-token"}, keyPair, time.Now())
	require.NoError(t, err)

	doc := parseDoc(t, envelope)

	signature := findLocal(doc.Root(), "Signature")
	require.NotNil(t, signature)

	references := signature.FindElements("./SignedInfo/Reference")
	require.Len(t, references, 2)
	require.Equal(t, "#"+timestampID, references[0].SelectAttrValue("URI", ""))
	require.Equal(t, "#"+bodyID, references[1].SelectAttrValue("URI", ""))

	require.NotEmpty(t, findLocal(doc.Root(), "SignatureValue").Text())
	require.NotNil(t, findLocal(doc.Root(), "BinarySecurityToken"))
}

func TestBuildRequestSecurityTokenSignedWithoutKey(t *testing.T) {
	carrier := newTestCarrier(api.VariantTicketCert)

	_, err := buildRequestSecurityToken(carrier, api.VariantTicketCert,
		api.Credentials{Ticket: "portal-ticket"}, nil, time.Now())
	require.Error(t, err)
	require.True(t, errors.IsBadRequest(err))
}

func TestBuildRequestSecurityTokenCertificateVariant(t *testing.T) {
	carrier := newTestCarrier(api.VariantCertificate)

	_, err := buildRequestSecurityToken(carrier, api.VariantCertificate, api.Credentials{}, nil, time.Now())
	require.Error(t, err)
	require.True(t, errors.IsBadRequest(err))
}

func newTestCarrier(variants ...api.AuthVariant) *api.Carrier {
	return &api.Carrier{
		Name:        "Proxima Lebensversicherung",
		STSURL:      "https://sts.proxima.example/UserSecurityTokenService",
		TransferURL: "https://transfer.proxima.example/TransferService",
		Variants:    variants,
	}
}

func newTestKeyPair(t *testing.T) *KeyPair {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "broker-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &KeyPair{PrivateKey: key, Certificate: cert}
}

func parseDoc(t *testing.T, data []byte) *etree.Document {
	t.Helper()

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))

	return doc
}
