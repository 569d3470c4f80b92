/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sts

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

const (
	nsDS = "http://www.w3.org/2000/09/xmldsig#"

	certTokenID = "X509-Token"

	algExcC14N     = "http://www.w3.org/2001/10/xml-exc-c14n#"
	algRSASHA256   = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	algDigestSHA256 = "http://www.w3.org/2001/04/xmlenc#sha256"
)

// signEnvelope adds a ds:Signature to the wsse:Security header which signs the
// wsu:Timestamp and the SOAP Body by reference. Canonicalization is exclusive C14N.
func signEnvelope(doc *etree.Document, security *etree.Element, keyPair *KeyPair) error {
	canonicalizer := dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

	signedInfo := etree.NewElement("ds:SignedInfo")
	signedInfo.CreateAttr("xmlns:ds", nsDS)
	signedInfo.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", algExcC14N)
	signedInfo.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", algRSASHA256)

	for _, id := range []string{timestampID, bodyID} {
		el := findByID(doc.Root(), id)
		if el == nil {
			return fmt.Errorf("element with wsu:Id [%s] not found", id)
		}

		digest, err := digestElement(canonicalizer, el)
		if err != nil {
			return fmt.Errorf("digest element [%s]: %w", id, err)
		}

		reference := signedInfo.CreateElement("ds:Reference")
		reference.CreateAttr("URI", "#"+id)

		transforms := reference.CreateElement("ds:Transforms")
		transforms.CreateElement("ds:Transform").CreateAttr("Algorithm", algExcC14N)

		reference.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", algDigestSHA256)
		reference.CreateElement("ds:DigestValue").SetText(digest)
	}

	canonicalSignedInfo, err := canonicalizer.Canonicalize(signedInfo.Copy())
	if err != nil {
		return fmt.Errorf("canonicalize SignedInfo: %w", err)
	}

	hashed := sha256.Sum256(canonicalSignedInfo)

	signatureValue, err := rsa.SignPKCS1v15(rand.Reader, keyPair.PrivateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}

	signature := security.CreateElement("ds:Signature")
	signature.CreateAttr("xmlns:ds", nsDS)
	signature.AddChild(signedInfo)
	signature.CreateElement("ds:SignatureValue").SetText(base64.StdEncoding.EncodeToString(signatureValue))

	keyInfo := signature.CreateElement("ds:KeyInfo")
	str := keyInfo.CreateElement("wsse:SecurityTokenReference")
	ref := str.CreateElement("wsse:Reference")
	ref.CreateAttr("URI", "#"+certTokenID)
	ref.CreateAttr("ValueType", x509TokenProfile)

	return nil
}

func digestElement(canonicalizer dsig.Canonicalizer, el *etree.Element) (string, error) {
	canonical, err := canonicalizer.Canonicalize(el.Copy())
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(canonical)

	return base64.StdEncoding.EncodeToString(digest[:]), nil
}

// findByID searches the tree for an element with the given wsu:Id or Id attribute.
func findByID(el *etree.Element, id string) *etree.Element {
	if el == nil {
		return nil
	}

	for _, attr := range el.Attr {
		if (attr.Key == "Id" || attr.Key == "ID") && attr.Value == id {
			return el
		}
	}

	for _, child := range el.ChildElements() {
		if found := findByID(child, id); found != nil {
			return found
		}
	}

	return nil
}
