package config

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Secret file path variables. Pointing one of these at a mounted secret file
// (e.g. a Kubernetes or Docker secret) loads its contents into the config,
// taking precedence over the plain environment variables.
const (
	envRedisPasswordFile = "LEARNLEDGER_REDIS_PASSWORD_FILE"
	envSQLDSNFile        = "LEARNLEDGER_SQL_DSN_FILE"
	envAPIKeysFile       = "LEARNLEDGER_SECURITY_API_KEYS_FILE"
)

// LoadSecretsFromEnv resolves file-based secrets into the configuration.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if secret, ok, err := readSecretFile(envRedisPasswordFile); err != nil {
		return err
	} else if ok {
		c.Storage.Redis.Password = secret
	}

	if secret, ok, err := readSecretFile(envSQLDSNFile); err != nil {
		return err
	} else if ok {
		c.Storage.SQL.DSN = secret
	}

	if secret, ok, err := readSecretFile(envAPIKeysFile); err != nil {
		return err
	} else if ok {
		var keys []string
		for _, k := range strings.Split(secret, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		c.Security.APIKeys = keys
	}

	return nil
}

// readSecretFile reads the file named by the given environment variable.
// Returns ok=false when the variable is unset.
func readSecretFile(envVar string) (string, bool, error) {
	path := os.Getenv(envVar)
	if path == "" {
		return "", false, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - operator-controlled path
	if err != nil {
		return "", false, fmt.Errorf("failed to read secret file for %s: %w", envVar, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}
