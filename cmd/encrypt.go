package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ec2crypt/ec2crypt/pkg/aws"
	"github.com/ec2crypt/ec2crypt/pkg/config"
	"github.com/ec2crypt/ec2crypt/pkg/migrate"
)

var (
	encryptProfile     string
	encryptRegion      string
	encryptKey         string
	encryptInstanceIDs []string
	encryptAll         bool
	encryptConcurrency int
	encryptConfigFile  string

	encryptSnapshotTimeout string
	encryptVolumeTimeout   string
	encryptInstanceTimeout string
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt the EBS volumes of the targeted instances",
	Long: `Encrypt every unencrypted EBS volume attached to the targeted
instances, including root volumes. Running instances are stopped for the
swap and restarted afterwards. Volumes that are already encrypted are
skipped, even when a different key is specified.`,
	RunE:         runEncrypt,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(encryptCmd)

	encryptCmd.Flags().StringVarP(&encryptProfile, "profile", "p", "", "AWS profile (required)")
	encryptCmd.Flags().StringVarP(&encryptRegion, "region", "r", "", "AWS region (required)")
	encryptCmd.Flags().StringVarP(&encryptKey, "key", "k", "", "Customer master key, alias or id (default: the regional aws/ebs key)")
	encryptCmd.Flags().StringArrayVarP(&encryptInstanceIDs, "instance-id", "i", nil, "Instance id to encrypt (repeatable)")
	encryptCmd.Flags().BoolVar(&encryptAll, "all", false, "Encrypt all instances in the region")
	encryptCmd.Flags().IntVar(&encryptConcurrency, "concurrency", 0, "Instances processed in parallel (default 4)")
	encryptCmd.Flags().StringVar(&encryptConfigFile, "config", "", "YAML config file; flags take precedence")
	encryptCmd.Flags().StringVar(&encryptSnapshotTimeout, "snapshot-timeout", "", "Wait bound per snapshot/copy stage (default 30m)")
	encryptCmd.Flags().StringVar(&encryptVolumeTimeout, "volume-timeout", "", "Wait bound per volume stage (default 10m)")
	encryptCmd.Flags().StringVar(&encryptInstanceTimeout, "instance-timeout", "", "Wait bound per instance stop/start (default 10m)")
}

func buildRunConfig() (*config.RunConfig, error) {
	cfg := &config.RunConfig{
		Profile:         encryptProfile,
		Region:          encryptRegion,
		Key:             encryptKey,
		InstanceIDs:     encryptInstanceIDs,
		AllInstances:    encryptAll,
		Concurrency:     encryptConcurrency,
		SnapshotTimeout: encryptSnapshotTimeout,
		VolumeTimeout:   encryptVolumeTimeout,
		InstanceTimeout: encryptInstanceTimeout,
	}
	if encryptConfigFile != "" {
		if err := cfg.LoadFile(encryptConfigFile); err != nil {
			return nil, err
		}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	cfg, err := buildRunConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, finishing in-flight migrations...", sig)
		cancel()
	}()

	client, err := aws.NewClient(ctx, cfg.Profile, cfg.Region)
	if err != nil {
		return err
	}

	account, err := client.VerifyCredentials(ctx)
	if err != nil {
		return err
	}
	log.Printf("Using account %s, region %s", account, cfg.Region)

	keyARN, err := client.ResolveKey(ctx, cfg.Key)
	if err != nil {
		return err
	}
	log.Printf("Encrypting under key %s", keyARN)

	timeouts, err := cfg.Timeouts()
	if err != nil {
		return err
	}

	scheduler := migrate.NewScheduler(client, migrate.Options{
		KeyID:    keyARN,
		Timeouts: timeouts,
	}, cfg.Concurrency)

	report, err := scheduler.Run(ctx, cfg.InstanceIDs)
	if report != nil {
		fmt.Print(report.String())
	}
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%d volume(s) or instance(s) failed", report.FailureCount())
	}
	return nil
}
