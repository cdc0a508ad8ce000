package cmd

import (
	"strings"
	"testing"
)

func resetEncryptFlags() {
	encryptProfile = ""
	encryptRegion = ""
	encryptKey = ""
	encryptInstanceIDs = nil
	encryptAll = false
	encryptConcurrency = 0
	encryptConfigFile = ""
	encryptSnapshotTimeout = ""
	encryptVolumeTimeout = ""
	encryptInstanceTimeout = ""
}

func TestBuildRunConfig(t *testing.T) {
	tests := []struct {
		name    string
		setup   func()
		wantErr string
	}{
		{
			name: "valid explicit ids",
			setup: func() {
				encryptProfile = "prod"
				encryptRegion = "us-east-2"
				encryptInstanceIDs = []string{"i-0abc", "i-0def"}
			},
		},
		{
			name: "valid all instances",
			setup: func() {
				encryptProfile = "prod"
				encryptRegion = "us-east-2"
				encryptAll = true
			},
		},
		{
			name: "missing profile",
			setup: func() {
				encryptRegion = "us-east-2"
				encryptAll = true
			},
			wantErr: "profile is required",
		},
		{
			name: "missing target selection",
			setup: func() {
				encryptProfile = "prod"
				encryptRegion = "us-east-2"
			},
			wantErr: "specify instance ids or all instances",
		},
		{
			name: "conflicting target selection",
			setup: func() {
				encryptProfile = "prod"
				encryptRegion = "us-east-2"
				encryptAll = true
				encryptInstanceIDs = []string{"i-0abc"}
			},
			wantErr: "mutually exclusive",
		},
		{
			name: "bad timeout",
			setup: func() {
				encryptProfile = "prod"
				encryptRegion = "us-east-2"
				encryptAll = true
				encryptSnapshotTimeout = "soon"
			},
			wantErr: "invalid snapshot_timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEncryptFlags()
			tt.setup()

			cfg, err := buildRunConfig()
			if tt.wantErr != "" {
				if err == nil {
					t.Fatal("buildRunConfig() = nil, want error")
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %q, want substring %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildRunConfig(): %v", err)
			}
			if cfg.Concurrency != 4 {
				t.Errorf("Concurrency = %d, want the default 4", cfg.Concurrency)
			}
			if cfg.SnapshotTimeout != "30m" {
				t.Errorf("SnapshotTimeout = %q, want the default 30m", cfg.SnapshotTimeout)
			}
		})
	}
}

func TestBuildRunConfigMissingFile(t *testing.T) {
	resetEncryptFlags()
	encryptProfile = "prod"
	encryptRegion = "us-east-2"
	encryptAll = true
	encryptConfigFile = "/nonexistent/config.yaml"

	if _, err := buildRunConfig(); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
