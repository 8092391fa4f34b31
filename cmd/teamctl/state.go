package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/localfirst/teamgraph/coordinator"
	"github.com/localfirst/teamgraph/graph"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/pkg/storage"
	"github.com/localfirst/teamgraph/team"
)

const (
	deviceFile = "device.json"
	shareFile  = "share.json"
)

// deviceState is the on-disk form of the local device identity. The
// signing seed and encryption scalar reconstruct the device keyset; the
// same keyset seals/unseals the share record's keyring.
type deviceState struct {
	UserID           string `json:"userId"`
	DeviceID         string `json:"deviceId"`
	Generation       uint32 `json:"generation"`
	SigningSeed      []byte `json:"signingSeed"`
	EncryptionSecret []byte `json:"encryptionSecret"`
}

func saveDevice(ctx team.Context) error {
	signingSeed, encSecret, err := ctx.Device.ExportSecrets()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(deviceState{
		UserID: ctx.UserID, DeviceID: ctx.DeviceID, Generation: ctx.Device.Generation,
		SigningSeed: signingSeed, EncryptionSecret: encSecret,
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(stateDir, deviceFile), data, 0600)
}

func loadDevice() (team.Context, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, deviceFile))
	if err != nil {
		return team.Context{}, fmt.Errorf("no device identity in %s (run 'teamctl create' or 'teamctl admit' first): %w", stateDir, err)
	}
	var ds deviceState
	if err := json.Unmarshal(data, &ds); err != nil {
		return team.Context{}, err
	}
	device, err := keyset.FromSecrets(keyset.DeviceScope(ds.DeviceID), ds.Generation, ds.SigningSeed, ds.EncryptionSecret)
	if err != nil {
		return team.Context{}, err
	}
	return team.Context{UserID: ds.UserID, DeviceID: ds.DeviceID, Device: device}, nil
}

// saveShare persists the team as a share record file: serialized graph
// plus the keyring sealed under the device's storage key.
func saveShare(ctx team.Context, t *team.Team) error {
	blob, err := t.Save()
	if err != nil {
		return err
	}
	sealed, err := coordinator.SealKeyring(ctx.Device, t.Keyring())
	if err != nil {
		return err
	}
	record := storage.ShareRecord{
		ShareID:         t.State().TeamName,
		SerializedGraph: blob,
		SealedKeyring:   sealed,
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(stateDir, shareFile), data, 0600)
}

func loadShare(ctx team.Context) (*team.Team, *storage.ShareRecord, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, shareFile))
	if err != nil {
		return nil, nil, fmt.Errorf("no share record in %s: %w", stateDir, err)
	}
	var record storage.ShareRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, nil, err
	}
	g, err := graph.Deserialize(record.SerializedGraph)
	if err != nil {
		return nil, nil, err
	}
	ring, err := coordinator.OpenKeyring(ctx.Device, record.SealedKeyring)
	if err != nil {
		return nil, nil, err
	}
	return team.LoadWithKeyring(g, ctx, ring), &record, nil
}

// loadTeam is the common prelude of every command operating on an
// existing share.
func loadTeam() (team.Context, *team.Team, error) {
	ctx, err := loadDevice()
	if err != nil {
		return team.Context{}, nil, err
	}
	t, _, err := loadShare(ctx)
	if err != nil {
		return team.Context{}, nil, err
	}
	return ctx, t, nil
}
