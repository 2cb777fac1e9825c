package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-tangra/go-tangra-assets/internal/collector"
	"github.com/go-tangra/go-tangra-assets/internal/convert"
	"github.com/go-tangra/go-tangra-assets/internal/service"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Print what this machine reports about itself as JSON",
	Args:  cobra.NoArgs,
	RunE:  runProbe,
}

var registerLocalCmd = &cobra.Command{
	Use:   "register-local",
	Short: "Create an asset for this machine from its SMBIOS and network data",
	Args:  cobra.NoArgs,
	RunE:  runRegisterLocal,
}

var (
	probeOutput string
	localSite   string
	localRoom   string
	localUser   string
)

func init() {
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "", "write JSON output to file instead of stdout")
	registerLocalCmd.Flags().StringVar(&localSite, "site", "", "site of this machine")
	registerLocalCmd.Flags().StringVar(&localRoom, "room", "", "room of this machine")
	registerLocalCmd.Flags().StringVar(&localUser, "user", "", "user this machine is assigned to")

	rootCmd.AddCommand(probeCmd, registerLocalCmd)
}

// collectLocal gathers whatever the machine reports. Partial data is still
// useful, so collection errors are only printed.
func collectLocal(stderr io.Writer) *collector.Inventory {
	inv, err := collector.Collect()
	if err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	return inv
}

func runProbe(cmd *cobra.Command, _ []string) error {
	inv := collectLocal(cmd.ErrOrStderr())
	draft := convert.InventoryToRecord(inv)

	w := cmd.OutOrStdout()
	if probeOutput != "" {
		f, err := os.Create(probeOutput)
		if err != nil {
			return fmt.Errorf("cannot create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Inventory *collector.Inventory `json:"inventory"`
		Draft     any                  `json:"draft"`
	}{inv, draft}); err != nil {
		return fmt.Errorf("encoding inventory: %w", err)
	}

	if probeOutput != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "inventory written to %s\n", probeOutput)
	}
	return nil
}

func runRegisterLocal(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	if err := a.openStore(ctx); err != nil {
		return err
	}

	rec := convert.InventoryToRecord(collectLocal(cmd.ErrOrStderr()))
	rec.Site, rec.Room, rec.AssignedUser = localSite, localRoom, localUser

	created, err := service.New(a.manager).Create(ctx, *rec)
	if err != nil {
		return fmt.Errorf("register %s: %w", rec.Hostname, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as asset %d\n", created.Hostname, created.ID)
	return nil
}
