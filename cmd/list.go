package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ec2crypt/ec2crypt/pkg/aws"
)

var (
	listProfile     string
	listRegion      string
	listInstanceIDs []string
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List instances and the encryption status of their volumes",
	Long: `List the targeted instances and every attached EBS volume with its
encryption status. Read-only: no instance is stopped and no volume is
touched. Useful to preview what an encrypt run would do.`,
	RunE:         runList,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listProfile, "profile", "p", "", "AWS profile (required)")
	listCmd.Flags().StringVarP(&listRegion, "region", "r", "", "AWS region (required)")
	listCmd.Flags().StringArrayVarP(&listInstanceIDs, "instance-id", "i", nil, "Instance id to list (repeatable; default: all instances)")
}

func runList(cmd *cobra.Command, args []string) error {
	if listProfile == "" {
		return fmt.Errorf("profile is required")
	}
	if listRegion == "" {
		return fmt.Errorf("region is required")
	}

	ctx := context.Background()
	client, err := aws.NewClient(ctx, listProfile, listRegion)
	if err != nil {
		return err
	}
	if _, err := client.VerifyCredentials(ctx); err != nil {
		return err
	}

	instances, err := client.ListInstances(ctx, listInstanceIDs)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}
	if len(instances) == 0 {
		fmt.Println("No instances found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "INSTANCE\tSTATE\tVOLUME\tDEVICE\tSIZE\tTYPE\tENCRYPTED\tKEY")
	for _, inst := range instances {
		mappings, err := client.DescribeInstanceVolumes(ctx, inst.ID)
		if err != nil {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\t-\t%v\n", inst.ID, inst.State, err)
			continue
		}
		if len(mappings) == 0 {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\t-\t-\t-\n", inst.ID, inst.State)
			continue
		}
		for _, m := range mappings {
			encrypted := "no"
			key := "-"
			if m.Encrypted {
				encrypted = "yes"
				if m.KeyID != "" {
					key = m.KeyID
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dGiB\t%s\t%s\t%s\n",
				inst.ID, inst.State, m.VolumeID, m.Device, m.Size, m.VolumeType, encrypted, key)
		}
	}
	return w.Flush()
}
