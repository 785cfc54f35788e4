package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NethermindEth/chaoschain-persona/config"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <owner>",
	Short: "Restore an owner's profile from the content store and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func init() {
	config.BindFlags(restoreCmd.Flags())
}

func runRestore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	n, err := buildNode(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	res := n.service.Restore(cmd.Context(), args[0])
	if !res.OK() {
		return fmt.Errorf("restore failed: %w", res.Err)
	}

	out := struct {
		Restored      bool   `json:"restored"`
		Skipped       bool   `json:"skipped"`
		ContentID     string `json:"contentId,omitempty"`
		SchemaVersion int    `json:"schemaVersion,omitempty"`
		Examined      int    `json:"examined"`
		SampleCount   uint64 `json:"sampleCount"`
	}{
		Restored:      res.Value.Restored,
		Skipped:       res.Value.Skipped,
		ContentID:     res.Value.ContentID,
		SchemaVersion: res.Value.SchemaVersion,
		Examined:      res.Value.Examined,
	}
	if res.Value.Profile != nil {
		out.SampleCount = res.Value.Profile.SampleCount
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
