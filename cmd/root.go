package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "ec2crypt",
	Short: "Encrypt EBS volumes attached to EC2 instances, in place",
	Long: `ec2crypt - In-place EBS volume encryption for EC2 instances

ec2crypt replaces every unencrypted EBS volume attached to the targeted
instances with an encrypted copy, root volumes included:
  • Snapshots each unencrypted volume
  • Copies the snapshot with encryption under your CMK (or the
    regional default alias/aws/ebs key)
  • Recreates the volume from the encrypted copy and swaps it in at
    the same device path with the same delete-on-termination flag
  • Restores each instance to the power state it started in
  • Cleans up the intermediate snapshots and the old volumes

Instances are processed in parallel (bounded), volumes on a single
instance strictly one at a time. A failure on one volume or instance
never aborts the rest of the run; the final report lists every
volume's outcome and the exit status is non-zero if anything failed.

Examples:
  # Encrypt two instances under the default EBS key
  ec2crypt encrypt -p prod-account -r us-east-2 -i i-0f084d152c27f9a5f -i i-021d3a27a71da28be

  # Encrypt everything in the region under a named CMK
  ec2crypt encrypt -p prod-account -r us-east-2 --all -k alias/storage-cmk`,
	Version: Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
