package observability_test

import (
	"VaultLedger/internal/observability"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger_LevelFromEnv(t *testing.T) {
	cases := []struct {
		env  string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		t.Setenv("VAULT_LOG_LEVEL", tc.env)
		if got := observability.NewLogger("test").GetLevel(); got != tc.want {
			t.Errorf("VAULT_LOG_LEVEL=%q: got %s, want %s", tc.env, got, tc.want)
		}
	}
}
