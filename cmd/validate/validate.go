package validate

import (
	"fmt"
	"io"
	"strings"

	"github.com/endorses/fpengine/internal/pkg/cmdutil"
	"github.com/endorses/fpengine/internal/pkg/filtertree"
	"github.com/endorses/fpengine/internal/pkg/fingerprint"
	"github.com/spf13/cobra"
)

var ValidateCmd = &cobra.Command{
	Use:   "validate [path...]",
	Short: "Check fingerprint definitions",
	Long: `Load fingerprint definitions and report every problem found.

Paths default to fingerprints.paths from the configuration. The command
exits non-zero when any element was rejected.`,
	RunE: runValidate,
}

var showTree bool

func init() {
	ValidateCmd.Flags().BoolVar(&showTree, "tree", false, "print the filter discrimination order and dispatch tree statistics")
}

func runValidate(cmd *cobra.Command, args []string) error {
	paths := cmdutil.GetStringSliceConfig(cmdutil.KeyFingerprintPaths, args)
	defs, errs := fingerprint.LoadPaths(paths, cmdutil.LoadOptions())

	out := cmd.OutOrStdout()
	writeDefinitions(out, defs)
	if showTree {
		writeTree(out, filtertree.Build(defs))
	}

	for _, err := range errs {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d problem(s) in %d fingerprint(s)", len(errs), len(defs))
	}
	if len(defs) == 0 {
		return fmt.Errorf("%w in %v", fingerprint.ErrNoFingerprints, paths)
	}
	fmt.Fprintf(out, "%d fingerprint(s) OK\n", len(defs))
	return nil
}

func writeDefinitions(w io.Writer, defs []*fingerprint.Definition) {
	for _, def := range defs {
		fmt.Fprintf(w, "%s: %d filter group(s), payloads [%s]\n",
			def.Name, len(def.Filters), strings.Join(def.PayloadTags(), ", "))
	}
}

func writeTree(w io.Writer, tree *filtertree.Tree) {
	order := make([]string, 0, len(tree.Order()))
	for _, t := range tree.Order() {
		order = append(order, t.String())
	}
	st := tree.Stats()
	fmt.Fprintf(w, "discrimination order: %s\n", strings.Join(order, " > "))
	fmt.Fprintf(w, "tree: %d group(s), %d payload(s), %d node(s), depth %d\n",
		st.Groups, st.Payloads, st.Nodes, st.Depth)
}
