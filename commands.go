package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rewind/internal/checkpoint"
)

var (
	rollbackTo     bool
	rollbackDryRun bool
	listProjects   bool

	predictCmd = &cobra.Command{
		Use:   "predict [command]",
		Short: "Show the file operations a shell command is expected to perform",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPredict,
	}

	unitsCmd = &cobra.Command{
		Use:   "units",
		Short: "List the journaled change units of the project",
		Args:  cobra.NoArgs,
		RunE:  runUnits,
	}

	summaryCmd = &cobra.Command{
		Use:   "summary [unit...]",
		Short: "Summarize tracked changes, optionally limited to some change units",
		RunE:  runSummary,
	}

	diffCmd = &cobra.Command{
		Use:   "diff [unit] [path]",
		Short: "Show what a change unit did to a file",
		Args:  cobra.ExactArgs(2),
		RunE:  runDiff,
	}

	rollbackCmd = &cobra.Command{
		Use:   "rollback [unit]",
		Short: "Restore the files touched by a change unit",
		Long: `Restore the files touched by a change unit. With --to, the unit and every
later unit are rolled back, newest first.`,
		Args: cobra.ExactArgs(1),
		RunE: runRollback,
	}

	resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Forget everything tracked for the project without touching its files",
		Args:  cobra.NoArgs,
		RunE:  runReset,
	}

	purgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Remove pooled content no journaled operation references",
		Args:  cobra.NoArgs,
		RunE:  runPurge,
	}
)

func init() {
	rollbackCmd.Flags().BoolVar(&rollbackTo, "to", false, "also roll back every later change unit")
	rollbackCmd.Flags().BoolVarP(&rollbackDryRun, "dry-run", "n", false, "only report what would be rolled back")
	unitsCmd.Flags().BoolVarP(&listProjects, "all", "a", false, "list every tracked project instead")

	rootCmd.AddCommand(serveCmd, predictCmd, unitsCmd, summaryCmd, diffCmd, rollbackCmd, resetCmd, purgeCmd)
}

func runPredict(cmd *cobra.Command, args []string) error {
	predictions := app.Predict(strings.Join(args, " "), projectDir)
	if len(predictions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no file operations predicted")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tPATH\tCONFIDENCE\tRULE")
	for _, p := range predictions {
		target := p.Path
		if p.Destination != "" {
			target += " -> " + p.Destination
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", p.Kind, target, p.Confidence, p.Rule)
	}
	return w.Flush()
}

func runUnits(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

	if listProjects {
		projects, err := app.Projects()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "PROJECT\tUNITS\tOPERATIONS\tLAST CHANGE")
		for _, p := range projects {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", p.Root, p.UnitCount, p.OperationCount, humanize.Time(p.LastRecordedAt))
		}
		return w.Flush()
	}

	units, err := app.Units(projectDir)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no change units tracked")
		return nil
	}
	fmt.Fprintln(w, "UNIT\tOPERATIONS\tFIRST SEEN")
	for _, u := range units {
		fmt.Fprintf(w, "%s\t%d\t%s\n", u.ID, u.OperationCount, humanize.Time(u.FirstSeenAt))
	}
	return w.Flush()
}

func runSummary(cmd *cobra.Command, args []string) error {
	units := make([]checkpoint.ChangeUnitID, 0, len(args))
	for _, arg := range args {
		units = append(units, checkpoint.ChangeUnitID(arg))
	}

	summary, err := app.Summarize(projectDir, units)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func printSummary(out io.Writer, s checkpoint.Summary) {
	fmt.Fprintf(out, "%s in %s\n",
		plural(s.TotalOperations, "operation"), plural(s.UnitCount, "change unit"))

	section := func(title string, paths []checkpoint.FilePath) {
		if len(paths) == 0 {
			return
		}
		fmt.Fprintf(out, "%s:\n", title)
		for _, p := range paths {
			fmt.Fprintf(out, "  %s\n", p)
		}
	}
	section("created", s.Created)
	section("modified", s.Modified)
	section("deleted", s.Deleted)
	if len(s.Moved) > 0 {
		fmt.Fprintln(out, "moved:")
		for _, m := range s.Moved {
			fmt.Fprintf(out, "  %s -> %s\n", m.From, m.To)
		}
	}
	section("changed outside tracked tools", s.Drifted)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return humanize.Comma(int64(n)) + " " + noun + "s"
}

func runDiff(cmd *cobra.Command, args []string) error {
	d, err := app.Diff(projectDir, checkpoint.ChangeUnitID(args[0]), args[1])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s) +%d -%d\n", d.Path, strings.Join(d.Kinds, ", "), d.Added, d.Removed)
	fmt.Fprint(out, d.Text)
	return nil
}

func runRollback(cmd *cobra.Command, args []string) error {
	unit := checkpoint.ChangeUnitID(args[0])
	out := cmd.OutOrStdout()

	count := 0
	if rollbackTo {
		n, err := app.RollbackCount(projectDir, unit, nil)
		if err != nil {
			return err
		}
		count = n
	} else {
		has, err := app.HasOperations(projectDir, unit)
		if err != nil {
			return err
		}
		if has {
			count = 1
		}
	}

	if count == 0 {
		fmt.Fprintf(out, "nothing to roll back for %s\n", unit)
		return nil
	}

	if rollbackDryRun {
		fmt.Fprintf(out, "would roll back %s\n", plural(count, "change unit"))
		if !rollbackTo {
			summary, err := app.Summarize(projectDir, []checkpoint.ChangeUnitID{unit})
			if err != nil {
				return err
			}
			printSummary(out, summary)
		}
		return nil
	}

	var err error
	if rollbackTo {
		err = app.RollbackToChangeUnit(projectDir, unit, nil)
	} else {
		err = app.RollbackChangeUnit(projectDir, unit)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "rolled back %s\n", plural(count, "change unit"))
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := app.ResetProject(projectDir); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "forgot all tracked changes of %s\n", projectDir)
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	removed, err := app.PurgeContent()
	if err != nil {
		return err
	}
	entries, size, err := app.storage.PoolStats()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s, %s kept (%s)\n",
		plural(removed, "blob"), plural(entries, "blob"), humanize.Bytes(uint64(size)))
	return nil
}
