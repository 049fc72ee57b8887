package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"bldr/internal/cas"
	"bldr/internal/digest"
)

var (
	casDirFlag  string
	casKindFlag string
)

var casCmd = &cobra.Command{
	Use:   "cas",
	Short: "Inspect the content-addressable store",
}

var casStatCmd = &cobra.Command{
	Use:   "stat <digest-hex>",
	Short: "Report whether a blob is present and how large it is",
	Args:  cobra.ExactArgs(1),
	RunE:  runCasStat,
}

func init() {
	casCmd.PersistentFlags().StringVar(&casDirFlag, "cas-dir", cas.DefaultRoot(), "content-addressable store root")
	casStatCmd.Flags().StringVar(&casKindFlag, "kind", string(cas.KindFile), "blob kind: file|action-metadata|tree-manifest|log")
	casCmd.AddCommand(casStatCmd)
}

func runCasStat(cmd *cobra.Command, args []string) error {
	d, err := digest.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parsing digest: %w", err)
	}
	store, err := cas.Open(casDirFlag, cas.Config{})
	if err != nil {
		return fmt.Errorf("opening CAS: %w", err)
	}
	kind := cas.Kind(casKindFlag)
	if !store.Has(kind, d) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: absent\n", d.Hex())
		return nil
	}
	payload, err := store.Get(kind, d)
	if err != nil {
		return fmt.Errorf("reading blob: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: present, %s (%s)\n", d.Hex(), humanize.Bytes(uint64(len(payload))), kind)
	return nil
}
