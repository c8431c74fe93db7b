package config

import "testing"

func TestEnvCredentialStoreLookup(t *testing.T) {
	t.Setenv("MY_SECRET_TOKEN", "hunter2")

	store := EnvCredentialStore{}

	v, found, err := store.Lookup("MY_SECRET_TOKEN")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !found || v != "hunter2" {
		t.Fatalf("expected found=true value=hunter2, got found=%v value=%q", found, v)
	}

	_, found, err = store.Lookup("MY_SECRET_TOKEN_THAT_DOES_NOT_EXIST")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if found {
		t.Fatalf("expected found=false for unset key")
	}
}
