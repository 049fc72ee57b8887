package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"bldr/internal/proof"
	"bldr/internal/signing"
)

var proofKeyDir string

var proofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Verify and sign run-proof bundles",
}

var proofVerifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check a proof bundle's schema, hash, and signature",
	Args:  cobra.ExactArgs(1),
	RunE:  runProofVerify,
}

var proofSignCmd = &cobra.Command{
	Use:   "sign <file>",
	Short: "Sign a proof bundle in place with this host's keypair",
	Args:  cobra.ExactArgs(1),
	RunE:  runProofSign,
}

func init() {
	proofCmd.PersistentFlags().StringVar(&proofKeyDir, "key-dir", ".", "directory holding the signing keypair")
	proofCmd.AddCommand(proofVerifyCmd, proofSignCmd)
}

func runProofVerify(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening bundle: %w", err)
	}
	defer f.Close()

	b, err := proof.Load(f)
	if err != nil {
		return fmt.Errorf("loading bundle: %w", err)
	}

	result := proof.Verify(b)
	out := cmd.OutOrStdout()
	colored := isatty.IsTerminal(os.Stdout.Fd())

	if result.Valid {
		printStatus(out, colored, true, fmt.Sprintf("run %s: valid (checked through %s)", b.RunID, result.Step))
		return nil
	}
	printStatus(out, colored, false, fmt.Sprintf("run %s: failed at %s: %v", b.RunID, result.Step, result.Err))
	return fmt.Errorf("bundle verification failed")
}

func runProofSign(cmd *cobra.Command, args []string) error {
	f, err := os.OpenFile(args[0], os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening bundle: %w", err)
	}
	defer f.Close()

	b, err := proof.Load(f)
	if err != nil {
		return fmt.Errorf("loading bundle: %w", err)
	}

	kp, err := signing.LoadOrCreateKeyPair(proofKeyDir)
	if err != nil {
		return fmt.Errorf("loading signing keypair: %w", err)
	}
	if err := proof.Sign(b, kp); err != nil {
		return fmt.Errorf("signing bundle: %w", err)
	}

	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("rewinding bundle file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating bundle file: %w", err)
	}
	if err := proof.Save(b, f); err != nil {
		return fmt.Errorf("saving signed bundle: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "signed run %s\n", b.RunID)
	return nil
}

func printStatus(w interface{ Write([]byte) (int, error) }, colored, ok bool, msg string) {
	if !colored {
		fmt.Fprintln(w, msg)
		return
	}
	const (
		green = "\x1b[32m"
		red   = "\x1b[31m"
		reset = "\x1b[0m"
	)
	color := green
	if !ok {
		color = red
	}
	fmt.Fprintf(w, "%s%s%s\n", color, msg, reset)
}
