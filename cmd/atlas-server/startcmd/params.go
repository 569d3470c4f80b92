/*
Copyright Maklerhaus GmbH. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/maklerhaus/atlas/internal/pkg/cmdutil"
	"github.com/maklerhaus/atlas/pkg/bipro/api"
)

const (
	commonEnvVarUsageText = "Alternatively, this can be set with the following environment variable: "

	hostURLFlagName      = "host-url"
	hostURLFlagShorthand = "u"
	hostURLFlagUsage     = "Address the operational HTTP server listens on. Format: HostName:Port. " +
		commonEnvVarUsageText + hostURLEnvKey
	hostURLEnvKey = "ATLAS_HOST_URL"

	tlsCertificateFlagName  = "tls-certificate"
	tlsCertificateFlagUsage = "TLS certificate for the operational server. " +
		commonEnvVarUsageText + tlsCertificateEnvKey
	tlsCertificateEnvKey = "ATLAS_TLS_CERTIFICATE"

	tlsKeyFlagName  = "tls-key"
	tlsKeyFlagUsage = "TLS key for the operational server. " + commonEnvVarUsageText + tlsKeyEnvKey
	tlsKeyEnvKey    = "ATLAS_TLS_KEY"

	databaseTypeFlagName      = "database-type"
	databaseTypeEnvKey        = "ATLAS_DATABASE_TYPE"
	databaseTypeFlagShorthand = "t"
	databaseTypeFlagUsage     = "The type of database to use. Supported options: mem, mongodb. " +
		commonEnvVarUsageText + databaseTypeEnvKey

	databaseURLFlagName      = "database-url"
	databaseURLEnvKey        = "ATLAS_DATABASE_URL"
	databaseURLFlagShorthand = "v"
	databaseURLFlagUsage     = "The URL of the database. Not needed if using memstore. " +
		commonEnvVarUsageText + databaseURLEnvKey

	databasePrefixFlagName  = "database-prefix"
	databasePrefixEnvKey    = "ATLAS_DATABASE_PREFIX"
	databasePrefixFlagUsage = "An optional prefix to be used when creating and retrieving " +
		"underlying databases. " + commonEnvVarUsageText + databasePrefixEnvKey

	logLevelFlagName  = "log-level"
	logLevelEnvKey    = "ATLAS_LOG_LEVEL"
	logLevelFlagUsage = "Logging level. Supports a per-module spec, e.g. " +
		"sts=debug:orchestrator=debug:info. " + commonEnvVarUsageText + logLevelEnvKey

	carrierConfigFileFlagName  = "carrier-config-file"
	carrierConfigFileEnvKey    = "ATLAS_CARRIER_CONFIG_FILE"
	carrierConfigFileFlagUsage = "Path to the JSON file describing the BiPRO carriers: endpoints, " +
		"authentication variant and the names of the environment variables holding the credentials. " +
		commonEnvVarUsageText + carrierConfigFileEnvKey

	archiveURLFlagName  = "archive-url"
	archiveURLEnvKey    = "ATLAS_ARCHIVE_URL"
	archiveURLFlagUsage = "The URL of the document archive. " + commonEnvVarUsageText + archiveURLEnvKey

	syncIntervalFlagName  = "sync-interval"
	syncIntervalEnvKey    = "ATLAS_SYNC_INTERVAL"
	syncIntervalFlagUsage = "The interval at which pending shipments are fetched from the carriers. " +
		"Defaults to 15m. " + commonEnvVarUsageText + syncIntervalEnvKey

	taskMgrCheckIntervalFlagName  = "taskmgr-check-interval"
	taskMgrCheckIntervalEnvKey    = "ATLAS_TASKMGR_CHECK_INTERVAL"
	taskMgrCheckIntervalFlagUsage = "The interval at which the task manager checks for tasks to run. " +
		"Defaults to 10s. " + commonEnvVarUsageText + taskMgrCheckIntervalEnvKey

	tokenSweepIntervalFlagName  = "token-sweep-interval" //nolint:gosec
	tokenSweepIntervalEnvKey    = "ATLAS_TOKEN_SWEEP_INTERVAL"
	tokenSweepIntervalFlagUsage = "The interval at which expired security tokens are swept from " +
		"the cache. Defaults to 1m. " + commonEnvVarUsageText + tokenSweepIntervalEnvKey

	importInboxFlagName  = "import-inbox"
	importInboxEnvKey    = "ATLAS_IMPORT_INBOX"
	importInboxFlagUsage = "Directory watched for commission statements and contract exports to " +
		"import. Disabled if not set. " + commonEnvVarUsageText + importInboxEnvKey

	inboxScanIntervalFlagName  = "inbox-scan-interval"
	inboxScanIntervalEnvKey    = "ATLAS_INBOX_SCAN_INTERVAL"
	inboxScanIntervalFlagUsage = "The interval at which the import inbox is scanned. Defaults to 1m. " +
		commonEnvVarUsageText + inboxScanIntervalEnvKey

	serverIdleTimeoutFlagName  = "server-idle-timeout"
	serverIdleTimeoutEnvKey    = "ATLAS_SERVER_IDLE_TIMEOUT"
	serverIdleTimeoutFlagUsage = "The idle timeout of the operational server. Defaults to 2m. " +
		commonEnvVarUsageText + serverIdleTimeoutEnvKey

	serverReadHeaderTimeoutFlagName  = "server-read-header-timeout"
	serverReadHeaderTimeoutEnvKey    = "ATLAS_SERVER_READ_HEADER_TIMEOUT"
	serverReadHeaderTimeoutFlagUsage = "The read header timeout of the operational server. " +
		"Defaults to 20s. " + commonEnvVarUsageText + serverReadHeaderTimeoutEnvKey

	databaseTypeMemOption     = "mem"
	databaseTypeMongoDBOption = "mongodb"

	defaultHostURL                 = "0.0.0.0:8248"
	defaultSyncInterval            = 15 * time.Minute
	defaultTaskMgrCheckInterval    = 10 * time.Second
	defaultTokenSweepInterval      = time.Minute
	defaultInboxScanInterval       = time.Minute
	defaultServerIdleTimeout       = 2 * time.Minute
	defaultServerReadHeaderTimeout = 20 * time.Second
)

type serverParameters struct {
	hostURL        string
	tlsCertificate string
	tlsKey         string

	databaseType   string
	databaseURL    string
	databasePrefix string

	logLevel string

	carriers    []carrierConfig
	archiveURL  string
	importInbox string

	syncInterval            time.Duration
	taskMgrCheckInterval    time.Duration
	tokenSweepInterval      time.Duration
	inboxScanInterval       time.Duration
	serverIdleTimeout       time.Duration
	serverReadHeaderTimeout time.Duration
}

// carrierConfig describes one carrier in the configuration file. Secrets are not stored
// in the file; the file names the environment variables that hold them.
type carrierConfig struct {
	api.Carrier

	Variant     api.AuthVariant   `json:"authVariant"`
	Credentials credentialsConfig `json:"credentials"`
}

type credentialsConfig struct {
	UsernameEnv   string `json:"usernameEnv,omitempty"`
	PasswordEnv   string `json:"passwordEnv,omitempty"`
	OTPEnv        string `json:"otpEnv,omitempty"`
	TicketEnv     string `json:"ticketEnv,omitempty"`
	TGICEnv       string `json:"tgicEnv,omitempty"`
	PassphraseEnv string `json:"passphraseEnv,omitempty"`

	KeystoreFile   string             `json:"keystoreFile,omitempty"`
	KeystoreFormat api.KeystoreFormat `json:"keystoreFormat,omitempty"`
}

// resolve reads the referenced environment variables and key material into credentials.
func (c *credentialsConfig) resolve() (api.Credentials, error) {
	creds := api.Credentials{
		Username:       os.Getenv(c.UsernameEnv),
		Password:       os.Getenv(c.PasswordEnv),
		OTP:            os.Getenv(c.OTPEnv),
		Ticket:         os.Getenv(c.TicketEnv),
		TGIC:           os.Getenv(c.TGICEnv),
		Passphrase:     os.Getenv(c.PassphraseEnv),
		KeystoreFormat: c.KeystoreFormat,
	}

	if c.KeystoreFile != "" {
		keystore, err := os.ReadFile(c.KeystoreFile)
		if err != nil {
			return api.Credentials{}, fmt.Errorf("read keystore [%s]: %w", c.KeystoreFile, err)
		}

		creds.Keystore = keystore
	}

	return creds, nil
}

func getParameters(cmd *cobra.Command) (*serverParameters, error) {
	hostURL := cmdutil.GetOptionalString(cmd, hostURLFlagName, hostURLEnvKey)
	if hostURL == "" {
		hostURL = defaultHostURL
	}

	databaseType := cmdutil.GetOptionalString(cmd, databaseTypeFlagName, databaseTypeEnvKey)
	if databaseType == "" {
		databaseType = databaseTypeMemOption
	}

	if databaseType != databaseTypeMemOption && databaseType != databaseTypeMongoDBOption {
		return nil, fmt.Errorf("unsupported database type [%s]: expecting mem or mongodb", databaseType)
	}

	databaseURL := cmdutil.GetOptionalString(cmd, databaseURLFlagName, databaseURLEnvKey)

	if databaseType == databaseTypeMongoDBOption && databaseURL == "" {
		return nil, fmt.Errorf("%s is required when database type is mongodb", databaseURLFlagName)
	}

	carriers, err := getCarrierConfigs(cmd)
	if err != nil {
		return nil, err
	}

	syncInterval, err := cmdutil.GetOptionalDuration(cmd, syncIntervalFlagName,
		syncIntervalEnvKey, defaultSyncInterval)
	if err != nil {
		return nil, err
	}

	taskMgrCheckInterval, err := cmdutil.GetOptionalDuration(cmd, taskMgrCheckIntervalFlagName,
		taskMgrCheckIntervalEnvKey, defaultTaskMgrCheckInterval)
	if err != nil {
		return nil, err
	}

	tokenSweepInterval, err := cmdutil.GetOptionalDuration(cmd, tokenSweepIntervalFlagName,
		tokenSweepIntervalEnvKey, defaultTokenSweepInterval)
	if err != nil {
		return nil, err
	}

	inboxScanInterval, err := cmdutil.GetOptionalDuration(cmd, inboxScanIntervalFlagName,
		inboxScanIntervalEnvKey, defaultInboxScanInterval)
	if err != nil {
		return nil, err
	}

	serverIdleTimeout, err := cmdutil.GetOptionalDuration(cmd, serverIdleTimeoutFlagName,
		serverIdleTimeoutEnvKey, defaultServerIdleTimeout)
	if err != nil {
		return nil, err
	}

	serverReadHeaderTimeout, err := cmdutil.GetOptionalDuration(cmd, serverReadHeaderTimeoutFlagName,
		serverReadHeaderTimeoutEnvKey, defaultServerReadHeaderTimeout)
	if err != nil {
		return nil, err
	}

	return &serverParameters{
		hostURL:                 hostURL,
		tlsCertificate:          cmdutil.GetOptionalString(cmd, tlsCertificateFlagName, tlsCertificateEnvKey),
		tlsKey:                  cmdutil.GetOptionalString(cmd, tlsKeyFlagName, tlsKeyEnvKey),
		databaseType:            databaseType,
		databaseURL:             databaseURL,
		databasePrefix:          cmdutil.GetOptionalString(cmd, databasePrefixFlagName, databasePrefixEnvKey),
		logLevel:                cmdutil.GetOptionalString(cmd, logLevelFlagName, logLevelEnvKey),
		carriers:                carriers,
		archiveURL:              cmdutil.GetOptionalString(cmd, archiveURLFlagName, archiveURLEnvKey),
		importInbox:             cmdutil.GetOptionalString(cmd, importInboxFlagName, importInboxEnvKey),
		syncInterval:            syncInterval,
		taskMgrCheckInterval:    taskMgrCheckInterval,
		tokenSweepInterval:      tokenSweepInterval,
		inboxScanInterval:       inboxScanInterval,
		serverIdleTimeout:       serverIdleTimeout,
		serverReadHeaderTimeout: serverReadHeaderTimeout,
	}, nil
}

func getCarrierConfigs(cmd *cobra.Command) ([]carrierConfig, error) {
	configFile := cmdutil.GetOptionalString(cmd, carrierConfigFileFlagName, carrierConfigFileEnvKey)
	if configFile == "" {
		return nil, nil
	}

	configBytes, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("read carrier config [%s]: %w", configFile, err)
	}

	var carriers []carrierConfig

	if err := json.Unmarshal(configBytes, &carriers); err != nil {
		return nil, fmt.Errorf("unmarshal carrier config [%s]: %w", configFile, err)
	}

	for i := range carriers {
		c := &carriers[i]

		if c.Name == "" {
			return nil, fmt.Errorf("carrier config [%s]: entry %d has no name", configFile, i)
		}

		if !c.Variant.IsValid() {
			return nil, fmt.Errorf("carrier [%s]: unsupported auth variant [%s]", c.Name, c.Variant)
		}

		if !c.Supports(c.Variant) {
			return nil, fmt.Errorf("carrier [%s]: variant [%s] is not in the carrier's variant list",
				c.Name, c.Variant)
		}
	}

	return carriers, nil
}

func createFlags(cmd *cobra.Command) {
	cmd.Flags().StringP(hostURLFlagName, hostURLFlagShorthand, "", hostURLFlagUsage)
	cmd.Flags().StringP(tlsCertificateFlagName, "", "", tlsCertificateFlagUsage)
	cmd.Flags().StringP(tlsKeyFlagName, "", "", tlsKeyFlagUsage)
	cmd.Flags().StringP(databaseTypeFlagName, databaseTypeFlagShorthand, "", databaseTypeFlagUsage)
	cmd.Flags().StringP(databaseURLFlagName, databaseURLFlagShorthand, "", databaseURLFlagUsage)
	cmd.Flags().StringP(databasePrefixFlagName, "", "", databasePrefixFlagUsage)
	cmd.Flags().StringP(logLevelFlagName, "", "", logLevelFlagUsage)
	cmd.Flags().StringP(carrierConfigFileFlagName, "", "", carrierConfigFileFlagUsage)
	cmd.Flags().StringP(archiveURLFlagName, "", "", archiveURLFlagUsage)
	cmd.Flags().StringP(importInboxFlagName, "", "", importInboxFlagUsage)
	cmd.Flags().StringP(inboxScanIntervalFlagName, "", "", inboxScanIntervalFlagUsage)
	cmd.Flags().StringP(syncIntervalFlagName, "", "", syncIntervalFlagUsage)
	cmd.Flags().StringP(taskMgrCheckIntervalFlagName, "", "", taskMgrCheckIntervalFlagUsage)
	cmd.Flags().StringP(tokenSweepIntervalFlagName, "", "", tokenSweepIntervalFlagUsage)
	cmd.Flags().StringP(serverIdleTimeoutFlagName, "", "", serverIdleTimeoutFlagUsage)
	cmd.Flags().StringP(serverReadHeaderTimeoutFlagName, "", "", serverReadHeaderTimeoutFlagUsage)
}
