package cmd

import (
	"errors"
	"fmt"

	"github.com/marcus/daybook/internal/config"
	"github.com/marcus/daybook/internal/engine"
	"github.com/marcus/daybook/internal/keys"
	"github.com/marcus/daybook/internal/remote"
)

var errNotSignedIn = errors.New("not signed in; run 'daybook login' first")

// session resolves the stored credentials, preferring env overrides.
func session() (*config.AuthCredentials, error) {
	creds, err := config.LoadAuth()
	if err != nil {
		return nil, err
	}
	if creds == nil || creds.UserID == "" {
		return nil, errNotSignedIn
	}
	if t := config.Token(); t != "" {
		creds.Token = t
	}
	if creds.Token == "" {
		return nil, errNotSignedIn
	}
	return creds, nil
}

// newClient builds a remote client from the stored session.
func newClient(creds *config.AuthCredentials) *remote.Client {
	return remote.New(config.ServerURL(), creds.Token)
}

// newKeyManager wires the keystore and the remote issuance endpoint.
func newKeyManager(client *remote.Client) (*keys.Manager, error) {
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	ks, err := keys.NewKeystore(dataDir, config.KeyPassphrase())
	if err != nil {
		return nil, err
	}
	return keys.NewManager(ks, client), nil
}

// openEngine assembles the full engine for the signed-in user.
func openEngine(onSignOut func()) (*engine.Engine, error) {
	creds, err := session()
	if err != nil {
		return nil, err
	}
	client := newClient(creds)
	km, err := newKeyManager(client)
	if err != nil {
		return nil, err
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Options{
		DataDir:   dataDir,
		UserID:    creds.UserID,
		Backend:   client,
		Keys:      km,
		Interval:  config.SyncInterval(),
		OnSignOut: onSignOut,
	})
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	return eng, nil
}
