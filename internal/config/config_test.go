package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("default server port = %s, want 8080", cfg.Server.Port)
	}
	if cfg.Claim.SubmitWait != 60*time.Second {
		t.Errorf("default submit wait = %v, want 60s", cfg.Claim.SubmitWait)
	}
	if cfg.Claim.TimeoutWindow != 30*time.Minute {
		t.Errorf("default timeout window = %v, want 30m", cfg.Claim.TimeoutWindow)
	}
	if cfg.Claim.BatchSize != 50 {
		t.Errorf("default batch size = %d, want 50", cfg.Claim.BatchSize)
	}
	if cfg.Bonus.Mode != BonusModeFixed {
		t.Errorf("default bonus mode = %s, want fixed", cfg.Bonus.Mode)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CLAIM_SUBMIT_WAIT", "5s")
	t.Setenv("CLAIM_TIMEOUT_WINDOW", "10m")
	t.Setenv("CLAIM_BATCH_SIZE", "25")
	t.Setenv("BONUS_MODE", "percent")
	t.Setenv("BONUS_PERCENT_BPS", "500")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Claim.SubmitWait != 5*time.Second {
		t.Errorf("submit wait = %v, want 5s", cfg.Claim.SubmitWait)
	}
	if cfg.Claim.BatchSize != 25 {
		t.Errorf("batch size = %d, want 25", cfg.Claim.BatchSize)
	}
	if cfg.Bonus.Mode != BonusModePercent {
		t.Errorf("bonus mode = %s, want percent", cfg.Bonus.Mode)
	}
	if cfg.Bonus.PercentBps != 500 {
		t.Errorf("bonus bps = %d, want 500", cfg.Bonus.PercentBps)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "timeout window must exceed submit wait",
			env: map[string]string{
				"CLAIM_SUBMIT_WAIT":    "1h",
				"CLAIM_TIMEOUT_WINDOW": "30m",
			},
		},
		{
			name: "batch size must be positive",
			env: map[string]string{
				"CLAIM_BATCH_SIZE": "-1",
			},
		},
		{
			name: "unknown bonus mode",
			env: map[string]string{
				"BONUS_MODE": "raffle",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
