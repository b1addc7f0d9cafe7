package envconfig

import (
	"log/slog"
	"testing"
)

func TestVarTrimsQuotes(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"value", "value"},
		{"  value  ", "value"},
		{`"value"`, "value"},
		{`'value'`, "value"},
		{` "value" `, "value"},
	}
	for _, tt := range tests {
		t.Setenv("DINO_TEST_VAR", tt.raw)
		if got := Var("DINO_TEST_VAR"); got != tt.want {
			t.Errorf("Var(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"0", slog.LevelInfo},
		{"false", slog.LevelInfo},
		{"1", slog.LevelDebug},
		{"true", slog.LevelDebug},
		{"2", slog.Level(-8)},
	}
	for _, tt := range tests {
		t.Setenv("DINO_DEBUG", tt.value)
		if got := LogLevel(); got != tt.want {
			t.Errorf("LogLevel() with DINO_DEBUG=%q = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestUintDefaultOnGarbage(t *testing.T) {
	t.Setenv("DINO_NUM_WORKERS", "lots")
	if got := Uint("DINO_NUM_WORKERS", 7)(); got != 7 {
		t.Errorf("Uint() = %d, want default 7", got)
	}

	t.Setenv("DINO_NUM_WORKERS", "3")
	if got := Uint("DINO_NUM_WORKERS", 7)(); got != 3 {
		t.Errorf("Uint() = %d, want 3", got)
	}
}

func TestSeed(t *testing.T) {
	t.Setenv("DINO_SEED", "-42")
	if got := Seed(); got != -42 {
		t.Errorf("Seed() = %d, want -42", got)
	}

	t.Setenv("DINO_SEED", "")
	if got := Seed(); got != 0 {
		t.Errorf("Seed() = %d, want default 0", got)
	}
}

func TestHistoryPathDefaultEmpty(t *testing.T) {
	t.Setenv("DINO_HISTORY", "")
	if got := HistoryPath(); got != "" {
		t.Errorf("HistoryPath() = %q, want empty", got)
	}

	t.Setenv("DINO_HISTORY", "/tmp/runs.db")
	if got := HistoryPath(); got != "/tmp/runs.db" {
		t.Errorf("HistoryPath() = %q", got)
	}
}

func TestAsMapCoversEveryVariable(t *testing.T) {
	m := AsMap()
	for _, key := range []string{"DINO_DEBUG", "DINO_NUM_WORKERS", "DINO_HISTORY", "DINO_SEED"} {
		v, ok := m[key]
		if !ok {
			t.Errorf("AsMap() missing %s", key)
			continue
		}
		if v.Name != key || v.Description == "" {
			t.Errorf("AsMap()[%s] = %+v", key, v)
		}
	}
}
