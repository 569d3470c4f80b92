/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sts

import (
	"bytes"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/pavlo-v-chernykh/keystore-go/v4"
	pkcs12 "software.sslmate.com/src/go-pkcs12"

	"github.com/maklerhaus/atlas/pkg/bipro/api"
	"github.com/maklerhaus/atlas/pkg/errors"
)

// KeyPair is the in-memory key material parsed from a PFX or JKS keystore. It is never
// written to disk.
type KeyPair struct {
	PrivateKey  *rsa.PrivateKey
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// LoadKeyPair parses the keystore carried in the given credentials.
func LoadKeyPair(creds api.Credentials) (*KeyPair, error) {
	if len(creds.Keystore) == 0 {
		return nil, errors.NewBadRequestf("no keystore provided")
	}

	switch creds.KeystoreFormat {
	case api.KeystorePFX:
		return loadPFX(creds.Keystore, creds.Passphrase)
	case api.KeystoreJKS:
		return loadJKS(creds.Keystore, creds.Passphrase)
	default:
		return nil, errors.NewBadRequestf("unsupported keystore format [%s]", creds.KeystoreFormat)
	}
}

// TLSConfig returns a TLS client configuration that presents this key pair as client
// certificate.
func (k *KeyPair) TLSConfig() *tls.Config {
	chain := make([][]byte, 0, len(k.Chain)+1)
	chain = append(chain, k.Certificate.Raw)

	for _, cert := range k.Chain {
		chain = append(chain, cert.Raw)
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		Certificates: []tls.Certificate{{
			Certificate: chain,
			PrivateKey:  k.PrivateKey,
			Leaf:        k.Certificate,
		}},
	}
}

func loadPFX(data []byte, passphrase string) (*KeyPair, error) {
	key, cert, chain, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		return nil, errors.NewAuthError(fmt.Errorf("decode PFX keystore: %w", err))
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.NewBadRequestf("PFX private key is %T, expecting RSA", key)
	}

	return &KeyPair{
		PrivateKey:  rsaKey,
		Certificate: cert,
		Chain:       chain,
	}, nil
}

func loadJKS(data []byte, passphrase string) (*KeyPair, error) {
	ks := keystore.New()

	if err := ks.Load(bytes.NewReader(data), []byte(passphrase)); err != nil {
		return nil, errors.NewAuthError(fmt.Errorf("load JKS keystore: %w", err))
	}

	for _, alias := range ks.Aliases() {
		entry, err := ks.GetPrivateKeyEntry(alias, []byte(passphrase))
		if err != nil {
			continue
		}

		return parseJKSEntry(entry)
	}

	return nil, errors.NewBadRequestf("JKS keystore contains no private key entry")
}

func parseJKSEntry(entry keystore.PrivateKeyEntry) (*KeyPair, error) {
	// JKS private keys are stored as PKCS#8.
	key, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse JKS private key: %w", err)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.NewBadRequestf("JKS private key is %T, expecting RSA", key)
	}

	if len(entry.CertificateChain) == 0 {
		return nil, errors.NewBadRequestf("JKS private key entry has no certificate chain")
	}

	certs := make([]*x509.Certificate, 0, len(entry.CertificateChain))

	for _, c := range entry.CertificateChain {
		cert, err := x509.ParseCertificate(c.Content)
		if err != nil {
			return nil, fmt.Errorf("parse JKS certificate: %w", err)
		}

		certs = append(certs, cert)
	}

	return &KeyPair{
		PrivateKey:  rsaKey,
		Certificate: certs[0],
		Chain:       certs[1:],
	}, nil
}
