package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/go-tangra/go-tangra-assets/internal/backup"
	"github.com/go-tangra/go-tangra-assets/internal/filelock"
	"github.com/go-tangra/go-tangra-assets/internal/service"
	"github.com/go-tangra/go-tangra-assets/internal/store"
	"github.com/go-tangra/go-tangra-assets/internal/timeparse"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the database now and apply retention",
	Args:  cobra.NoArgs,
	RunE:  runBackup,
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackups,
}

var validateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check that a file can be restored",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Replace the database with a validated backup",
	Long: `Restore validates the file, asks for confirmation, copies the current
database to backups/before_restore_<timestamp>.db and then replaces it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List assets",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var (
	restoreYes bool
	listSite   string
	listRoom   string
)

func init() {
	restoreCmd.Flags().BoolVarP(&restoreYes, "yes", "y", false, "do not ask for confirmation")
	listCmd.Flags().StringVar(&listSite, "site", "", "only assets at this site")
	listCmd.Flags().StringVar(&listRoom, "room", "", "only assets in this room")

	rootCmd.AddCommand(backupCmd, backupsCmd, validateCmd, restoreCmd, listCmd)
}

func runBackup(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	if err := a.openStore(ctx); err != nil {
		return err
	}

	res, err := a.manager.Backup(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.Skipped {
		fmt.Fprintln(out, "Database is empty, nothing to back up")
		return nil
	}
	fmt.Fprintf(out, "Snapshot written to %s\n", res.Created)
	for _, p := range res.Removed {
		fmt.Fprintf(out, "Pruned %s\n", p)
	}
	return nil
}

func runBackups(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	snaps, err := a.manager.Backups()
	if err != nil {
		return err
	}
	return printSnapshots(cmd.OutOrStdout(), snaps)
}

func printSnapshots(w io.Writer, snaps []backup.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSIZE\tMODIFIED")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.Name, s.Kind, s.Size, timeparse.FormatTimestamp(s.ModTime))
	}
	return tw.Flush()
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, true, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.manager.Validate(commandContext(cmd), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is a valid backup\n", args[0])
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, true, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	candidate := args[0]

	// Validate before asking so that a bad file is reported straight away.
	if err := a.manager.Validate(ctx, candidate); err != nil {
		return err
	}
	if !restoreYes {
		q := fmt.Sprintf("Replace %s with %s? The current data is kept in %s.", a.layout.DatabasePath, candidate, a.layout.BackupsDir)
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), q)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Restore cancelled")
			return nil
		}
	}

	if err := a.openStore(ctx); err != nil {
		return inUse(err)
	}
	res, err := a.manager.Restore(ctx, candidate)
	if err != nil {
		return inUse(err)
	}

	out := cmd.OutOrStdout()
	if res.SnapshotPath != "" {
		fmt.Fprintf(out, "Previous database saved as %s\n", res.SnapshotPath)
	}
	fmt.Fprintln(out, "Restore complete")
	return nil
}

// inUse explains a lock held by another process, usually a running server.
func inUse(err error) error {
	if errors.Is(err, filelock.ErrLocked) {
		return fmt.Errorf("the database is in use by another process; stop the server or restore through its API: %w", err)
	}
	return err
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func runList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, true, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	if err := a.openStore(ctx); err != nil {
		return err
	}

	recs, total, err := service.New(a.manager).Search(ctx, store.ListFilter{Site: listSite, Room: listRoom})
	if err != nil {
		return err
	}
	return printRecords(cmd.OutOrStdout(), recs, total)
}

func printRecords(w io.Writer, recs []store.Record, total int) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHOSTNAME\tMODEL\tLOCATION\tUSER\tSTATUS")
	for _, r := range recs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Hostname, r.Model, r.Location, r.AssignedUser, r.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d asset(s)\n", total)
	return err
}

// commandContext falls back to Background for commands run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
