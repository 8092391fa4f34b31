package main

import (
	"fmt"

	"github.com/spf13/cobra"

	tgcrypto "github.com/localfirst/teamgraph/crypto"
	"github.com/localfirst/teamgraph/crypto/rotation"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/team"
)

var rotateDeviceCmd = &cobra.Command{
	Use:   "rotate-device",
	Short: "Rotate this device's own keys",
	Long: `Rotate mints a fresh signing and encryption keypair for the local
device, posts CHANGE_DEVICE_KEYS so the team records the new public
keys, and rewrites the state directory. Use after suspected device
compromise, or periodically as hygiene.`,
	RunE: runRotateDevice,
}

func init() {
	rootCmd.AddCommand(rotateDeviceCmd)
}

func runRotateDevice(cmd *cobra.Command, args []string) error {
	ctx, t, err := loadTeam()
	if err != nil {
		return err
	}

	// Track the signing keypair through a key store so the rotation is
	// recorded with history, then mint the encryption half alongside.
	store := tgcrypto.NewMemoryKeyStorage()
	mgr := tgcrypto.NewManager()
	mgr.SetStorage(store)

	oldSigning, _ := ctx.Device.KeyPairs()
	if err := store.Store(ctx.DeviceID, oldSigning); err != nil {
		return err
	}
	rotator := rotation.NewKeyRotator(store)
	newSigning, err := rotator.Rotate(ctx.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to rotate signing key: %w", err)
	}
	newEncryption, err := mgr.GenerateKeyPair(tgcrypto.KeyTypeX25519)
	if err != nil {
		return fmt.Errorf("failed to generate encryption key: %w", err)
	}

	newDevice, err := keyset.FromKeyPairs(
		keyset.DeviceScope(ctx.DeviceID), ctx.Device.Generation+1, newSigning, newEncryption)
	if err != nil {
		return err
	}

	// Post the new public keys while the old device key still signs.
	if err := t.ChangeDeviceKeys(newDevice); err != nil {
		return err
	}

	newCtx := team.Context{UserID: ctx.UserID, DeviceID: ctx.DeviceID, Device: newDevice}
	if err := saveDevice(newCtx); err != nil {
		return err
	}
	if err := saveShare(newCtx, t); err != nil {
		return err
	}

	history, err := rotator.GetRotationHistory(ctx.DeviceID)
	if err == nil && len(history) > 0 {
		fmt.Printf("Rotated device keys (%s -> %s).\n", history[0].OldKeyID, history[0].NewKeyID)
	} else {
		fmt.Println("Rotated device keys.")
	}
	fmt.Printf("Device key generation is now %d.\n", newDevice.Generation)
	return nil
}
