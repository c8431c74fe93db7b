package config

import "os"

// EnvCredentialStore resolves a stdio extension's env_keys against the
// process environment. It satisfies extensions.CredentialStore.
type EnvCredentialStore struct{}

// Lookup implements extensions.CredentialStore.
func (EnvCredentialStore) Lookup(key string) (string, bool, error) {
	v, ok := os.LookupEnv(key)
	return v, ok, nil
}
