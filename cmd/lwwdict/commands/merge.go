package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/khelechy/lwwdict/crdt"
	"github.com/khelechy/lwwdict/node"
	"github.com/khelechy/lwwdict/utils"
)

// mergeCmd represents the merge command
var mergeCmd = &cobra.Command{
	Use:   "merge <left> <right>",
	Short: "Merge two encoded replica snapshots",
	Long: `Merge two replica snapshots encoded as gzipped JSON, the format nodes publish.
The result keeps the bias of the left snapshot. It is written to --output,
or its visible entries are printed as JSON when no output file is given.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMerge(cmd, args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)

	mergeCmd.Flags().StringP("output", "o", "", "Output file for the merged snapshot (default: print visible entries)")
}

func readSnapshot(path string) (*node.Replica, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	s, err := utils.DecodeSnapshot[json.RawMessage](data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return crdt.FromSnapshot(s), nil
}

// mergeSnapshotFiles merges the replica stored at right into the one
// stored at left.
func mergeSnapshotFiles(left, right string) (*node.Replica, error) {
	l, err := readSnapshot(left)
	if err != nil {
		return nil, err
	}
	r, err := readSnapshot(right)
	if err != nil {
		return nil, err
	}
	return l.Merge(r), nil
}

// visibleEntries returns the visible key/value pairs of r.
func visibleEntries(r *node.Replica) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	for _, k := range r.Keys() {
		if v, ok := r.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

func runMerge(cmd *cobra.Command, left, right string) error {
	outputFile, _ := cmd.Flags().GetString("output")

	merged, err := mergeSnapshotFiles(left, right)
	if err != nil {
		return err
	}

	if outputFile == "" {
		output, err := json.MarshalIndent(visibleEntries(merged), "", "  ")
		if err != nil {
			return errors.Wrap(err, "marshal entries")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(output))
		return nil
	}

	data, err := utils.EncodeSnapshot(merged.Snapshot())
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputFile, data, 0644); err != nil {
		return errors.Wrapf(err, "write %s", outputFile)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Merged snapshot saved to: %s (%d visible keys)\n", outputFile, merged.Len())
	return nil
}
