package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "DAILY_GRANT_POINTS")
	unsetEnvWithCleanup(t, "MIN_DEPOSIT_AMOUNT")
	unsetEnvWithCleanup(t, "TRUST_TIER_THRESHOLDS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DailyGrantPoints != 1 {
		t.Errorf("DailyGrantPoints = %d, want 1", cfg.DailyGrantPoints)
	}
	if cfg.DailyGrantMinIntervalHrs != 24 {
		t.Errorf("DailyGrantMinIntervalHrs = %d, want 24", cfg.DailyGrantMinIntervalHrs)
	}
	if cfg.MinDepositAmount != 10000000 {
		t.Errorf("MinDepositAmount = %d, want 10000000", cfg.MinDepositAmount)
	}
	if cfg.TrustTierThresholds != "0.5:5,0.8:10" {
		t.Errorf("TrustTierThresholds = %q, want default tiers", cfg.TrustTierThresholds)
	}
	if cfg.BalancePollSchedule != "@every 1m" {
		t.Errorf("BalancePollSchedule = %q, want @every 1m", cfg.BalancePollSchedule)
	}
}

func TestLoadConfig_UsesTrustServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "TRUST_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_CoercesInvalidPolicyValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DAILY_GRANT_POINTS", "-3")
	setEnvWithCleanup(t, "MIN_DEPOSIT_AMOUNT", "0")
	setEnvWithCleanup(t, "DEPOSIT_FEE_BUFFER", "-1")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DailyGrantPoints != 1 {
		t.Errorf("DailyGrantPoints = %d, want coerced 1", cfg.DailyGrantPoints)
	}
	if cfg.MinDepositAmount != 10000000 {
		t.Errorf("MinDepositAmount = %d, want default restored", cfg.MinDepositAmount)
	}
	if cfg.DepositFeeBuffer != 0 {
		t.Errorf("DepositFeeBuffer = %d, want coerced 0", cfg.DepositFeeBuffer)
	}
}

func TestParseScoreTiers(t *testing.T) {
	cases := []struct {
		name    string
		spec    string
		want    []ScoreTier
		wantErr bool
	}{
		{
			name: "two tiers sorted",
			spec: "0.8:10,0.5:5",
			want: []ScoreTier{{MinScore: 0.5, Points: 5}, {MinScore: 0.8, Points: 10}},
		},
		{
			name: "whitespace tolerated",
			spec: " 0.5 : 5 , 0.8 : 10 ",
			want: []ScoreTier{{MinScore: 0.5, Points: 5}, {MinScore: 0.8, Points: 10}},
		},
		{name: "empty spec", spec: "", want: nil},
		{name: "missing points", spec: "0.5", wantErr: true},
		{name: "non-numeric score", spec: "high:5", wantErr: true},
		{name: "score out of range", spec: "1.5:5", wantErr: true},
		{name: "negative points", spec: "0.5:-2", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseScoreTiers(tc.spec)
			if tc.wantErr {
				if err == nil {
					t.Fatal("ParseScoreTiers returned nil error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseScoreTiers returned error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("tiers = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("tier %d = %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			os.Setenv(key, prev)
		}
	})
}
