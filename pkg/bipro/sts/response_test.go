/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maklerhaus/atlas/pkg/bipro/api"
	"github.com/maklerhaus/atlas/pkg/errors"
)

const tokenResponse = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <wst:RequestSecurityTokenResponse xmlns:wst="http://docs.oasis-open.org/ws-sx/ws-trust/200512"
        xmlns:wsu="http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd">
      <wst:Lifetime>
        <wsu:Created>2025-03-01T10:00:00Z</wsu:Created>
        <wsu:Expires>2025-03-01T10:30:00Z</wsu:Expires>
      </wst:Lifetime>
      <wst:RequestedSecurityToken>
        <saml2:Assertion xmlns:saml2="urn:oasis:names:tc:SAML:2.0:assertion" ID="A-1">
          <saml2:Issuer>https://sts.proxima.example</saml2:Issuer>
        </saml2:Assertion>
      </wst:RequestedSecurityToken>
    </wst:RequestSecurityTokenResponse>
  </soapenv:Body>
</soapenv:Envelope>`

const authFault = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <soapenv:Fault>
      <faultcode>wsse:FailedAuthentication</faultcode>
      <faultstring>Die Anmeldedaten sind ungültig.</faultstring>
    </soapenv:Fault>
  </soapenv:Body>
</soapenv:Envelope>`

func TestParseTokenResponse(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 59, 0, 0, time.UTC)

	token, err := parseTokenResponse([]byte(tokenResponse), "Proxima", api.VariantWeak, now)
	require.NoError(t, err)

	require.Equal(t, "Proxima", token.Carrier)
	require.Equal(t, api.VariantWeak, token.Variant)
	require.Contains(t, string(token.Assertion), "saml2:Assertion")
	require.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), token.IssuedAt)
	require.Equal(t, time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC), token.ExpiresAt)
}

func TestParseTokenResponseDefaultLifetime(t *testing.T) {
	response := `<Envelope><Body><RequestSecurityTokenResponse><RequestedSecurityToken>` +
		`<Assertion>opaque</Assertion>` +
		`</RequestedSecurityToken></RequestSecurityTokenResponse></Body></Envelope>`

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	token, err := parseTokenResponse([]byte(response), "Proxima", api.VariantTicket, now)
	require.NoError(t, err)
	require.Equal(t, now, token.IssuedAt)
	require.Equal(t, now.Add(defaultTokenLifetime), token.ExpiresAt)
}

func TestParseTokenResponseFault(t *testing.T) {
	_, err := parseTokenResponse([]byte(authFault), "Proxima", api.VariantWeak, time.Now())
	require.Error(t, err)
	require.True(t, errors.IsAuthError(err))
	require.Contains(t, err.Error(), "FailedAuthentication")
}

func TestParseTokenResponseMissingToken(t *testing.T) {
	_, err := parseTokenResponse([]byte("<Envelope><Body/></Envelope>"), "Proxima", api.VariantWeak, time.Now())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no RequestedSecurityToken")
}

func TestParseFaultBody(t *testing.T) {
	t.Run("auth fault", func(t *testing.T) {
		err := parseFaultBody([]byte(authFault))
		require.True(t, errors.IsAuthError(err))
	})

	t.Run("other fault", func(t *testing.T) {
		fault := `<Envelope><Body><Fault><faultcode>soapenv:Server</faultcode>` +
			`<faultstring>internal</faultstring></Fault></Body></Envelope>`

		err := parseFaultBody([]byte(fault))
		require.Error(t, err)
		require.False(t, errors.IsAuthError(err))
	})

	t.Run("not a fault", func(t *testing.T) {
		err := parseFaultBody([]byte("<Envelope><Body/></Envelope>"))
		require.Error(t, err)
	})
}

func TestTokenValidAt(t *testing.T) {
	now := time.Now()

	token := &api.Token{
		IssuedAt:  now,
		ExpiresAt: now.Add(10 * time.Minute),
	}

	require.True(t, token.ValidAt(now))
	require.True(t, token.ValidAt(now.Add(8*time.Minute)))

	// Within the expiry skew the token counts as expired.
	require.False(t, token.ValidAt(now.Add(9*time.Minute+30*time.Second)))
	require.False(t, token.ValidAt(now.Add(11*time.Minute)))
	require.False(t, token.ValidAt(now.Add(-time.Second)))

	var nilToken *api.Token

	require.False(t, nilToken.ValidAt(now))
}
