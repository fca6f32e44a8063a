package lookup

import (
	"fmt"
	"strings"

	"github.com/endorses/fpengine/internal/pkg/cmdutil"
	"github.com/spf13/cobra"
)

var LookupCmd = &cobra.Command{
	Use:   "lookup [table] [key]",
	Short: "Query lookup tables",
	Long: `Query the tables used to translate extracted values.

With no arguments every known table is listed. With a table and a key the
translated value is printed.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runLookup,
}

var tablePaths []string

func init() {
	LookupCmd.Flags().StringSliceVar(&tablePaths, "lookup", nil, "lookup table files (YAML)")
}

func runLookup(cmd *cobra.Command, args []string) error {
	p, err := cmdutil.NewLookups(cmdutil.GetStringSliceConfig(cmdutil.KeyLookupPaths, tablePaths))
	if err != nil {
		return fmt.Errorf("failed to load lookup tables: %w", err)
	}

	out := cmd.OutOrStdout()
	switch len(args) {
	case 0:
		fmt.Fprintln(out, strings.Join(p.Tables(), "\n"))
		return nil
	case 1:
		return fmt.Errorf("missing key for table %s", args[0])
	}

	value, ok := p.Lookup(args[0], args[1])
	if !ok {
		return fmt.Errorf("%s: no entry for %s", args[0], args[1])
	}
	fmt.Fprintln(out, value)
	return nil
}
