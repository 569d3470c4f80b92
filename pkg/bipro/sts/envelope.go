/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sts

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/maklerhaus/atlas/pkg/bipro/api"
	"github.com/maklerhaus/atlas/pkg/errors"
)

// XML namespaces used in WS-Trust requests.
const (
	nsSoapEnv = "http://schemas.xmlsoap.org/soap/envelope/"
	nsWSSE    = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsWSU     = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"
	nsWST     = "http://docs.oasis-open.org/ws-sx/ws-trust/200512"
	nsWSP     = "http://schemas.xmlsoap.org/ws/2004/09/policy"
	nsWSA     = "http://www.w3.org/2005/08/addressing"
	nsSAML2   = "urn:oasis:names:tc:SAML:2.0:assertion"

	passwordTextType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordText"
	x509TokenProfile = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-x509-token-profile-1.0#X509v3"
	base64Encoding   = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
	tgicTokenType    = "http://www.bipro.net/namespace/security#TGICToken"

	requestTypeIssue = "http://docs.oasis-open.org/ws-sx/ws-trust/200512/Issue"
	saml2TokenType   = "http://docs.oasis-open.org/wss/oasis-wss-saml-token-profile-1.1#SAMLV2.0"

	timestampID = "Timestamp-1"
	bodyID      = "Body-1"

	timestampTTL = 5 * time.Minute
)

// buildRequestSecurityToken builds the WS-Trust 1.3 RequestSecurityToken envelope for the
// given authentication variant. For cert-bearing variants the timestamp and body are signed
// with the given key pair.
func buildRequestSecurityToken(carrier *api.Carrier, variant api.AuthVariant, creds api.Credentials,
	keyPair *KeyPair, now time.Time) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("soapenv:Envelope")
	env.CreateAttr("xmlns:soapenv", nsSoapEnv)
	env.CreateAttr("xmlns:wsse", nsWSSE)
	env.CreateAttr("xmlns:wsu", nsWSU)
	env.CreateAttr("xmlns:wst", nsWST)

	header := env.CreateElement("soapenv:Header")
	security := header.CreateElement("wsse:Security")
	security.CreateAttr("soapenv:mustUnderstand", "1")

	addTimestamp(security, now)

	if err := addCredentials(security, variant, creds, keyPair); err != nil {
		return nil, err
	}

	body := env.CreateElement("soapenv:Body")
	body.CreateAttr("wsu:Id", bodyID)

	addRST(body, carrier)

	if variant.RequiresCertificate() {
		if keyPair == nil {
			return nil, errors.NewBadRequestf("variant [%s] requires a certificate but none was provided", variant)
		}

		if err := signEnvelope(doc, security, keyPair); err != nil {
			return nil, fmt.Errorf("sign envelope: %w", err)
		}
	}

	return docBytes(doc)
}

func addTimestamp(security *etree.Element, now time.Time) {
	timestamp := security.CreateElement("wsu:Timestamp")
	timestamp.CreateAttr("wsu:Id", timestampID)
	timestamp.CreateElement("wsu:Created").SetText(now.UTC().Format(time.RFC3339))
	timestamp.CreateElement("wsu:Expires").SetText(now.UTC().Add(timestampTTL).Format(time.RFC3339))
}

//nolint:cyclop
func addCredentials(security *etree.Element, variant api.AuthVariant, creds api.Credentials,
	keyPair *KeyPair) error {
	switch variant {
	case api.VariantWeak:
		addUsernameToken(security, creds.Username, creds.Password)

	case api.VariantStrong:
		// The second factor is appended to the password.
		addUsernameToken(security, creds.Username, creds.Password+creds.OTP)

	case api.VariantTicket:
		addTicketAssertion(security, creds.Ticket)

	case api.VariantTicketOTP:
		addTicketAssertion(security, creds.Ticket)
		addUsernameToken(security, creds.Username, creds.OTP)

	case api.VariantTicketCert:
		addTicketAssertion(security, creds.Ticket)
		addBinarySecurityToken(security, keyPair)

	case api.VariantTGICCert:
		addTGICToken(security, creds.TGIC)
		addBinarySecurityToken(security, keyPair)

	case api.VariantTGICMTAN:
		addTGICToken(security, creds.TGIC)
		addMTAN(security, creds.MTAN)

	case api.VariantCertificate:
		return errors.NewBadRequestf("variant [%s] does not use the STS", variant)

	default:
		return errors.NewBadRequestf("unsupported authentication variant [%s]", variant)
	}

	return nil
}

func addUsernameToken(security *etree.Element, username, password string) {
	token := security.CreateElement("wsse:UsernameToken")
	token.CreateAttr("wsu:Id", "UsernameToken-"+uuid.New().String())
	token.CreateElement("wsse:Username").SetText(username)

	pwd := token.CreateElement("wsse:Password")
	pwd.CreateAttr("Type", passwordTextType)
	pwd.SetText(password)
}

func addTicketAssertion(security *etree.Element, ticket string) {
	assertion := security.CreateElement("saml2:Assertion")
	assertion.CreateAttr("xmlns:saml2", nsSAML2)
	assertion.CreateAttr("ID", "Ticket-"+uuid.New().String())
	assertion.CreateElement("saml2:AttributeStatement").
		CreateElement("saml2:Attribute").
		CreateElement("saml2:AttributeValue").SetText(ticket)
}

func addBinarySecurityToken(security *etree.Element, keyPair *KeyPair) {
	if keyPair == nil {
		return
	}

	bst := security.CreateElement("wsse:BinarySecurityToken")
	bst.CreateAttr("wsu:Id", certTokenID)
	bst.CreateAttr("ValueType", x509TokenProfile)
	bst.CreateAttr("EncodingType", base64Encoding)
	bst.SetText(base64.StdEncoding.EncodeToString(keyPair.Certificate.Raw))
}

func addTGICToken(security *etree.Element, tgic string) {
	bst := security.CreateElement("wsse:BinarySecurityToken")
	bst.CreateAttr("wsu:Id", "TGIC-"+uuid.New().String())
	bst.CreateAttr("ValueType", tgicTokenType)
	bst.CreateAttr("EncodingType", base64Encoding)
	bst.SetText(base64.StdEncoding.EncodeToString([]byte(tgic)))
}

func addMTAN(security *etree.Element, mtan string) {
	token := security.CreateElement("wsse:UsernameToken")
	pwd := token.CreateElement("wsse:Password")
	pwd.CreateAttr("Type", passwordTextType)
	pwd.SetText(mtan)
}

func addRST(body *etree.Element, carrier *api.Carrier) {
	rst := body.CreateElement("wst:RequestSecurityToken")
	rst.CreateElement("wst:TokenType").SetText(saml2TokenType)
	rst.CreateElement("wst:RequestType").SetText(requestTypeIssue)

	appliesTo := rst.CreateElement("wsp:AppliesTo")
	appliesTo.CreateAttr("xmlns:wsp", nsWSP)

	epr := appliesTo.CreateElement("wsa:EndpointReference")
	epr.CreateAttr("xmlns:wsa", nsWSA)
	epr.CreateElement("wsa:Address").SetText(carrier.TransferURL)
}

func docBytes(doc *etree.Document) ([]byte, error) {
	doc.Indent(2)

	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize envelope: %w", err)
	}

	return data, nil
}
