package support

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("SHRIKE_TEST_ENV", "value")
	if got := GetEnv("SHRIKE_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("GetEnv returned %s, want value", got)
	}

	if got := GetEnv("SHRIKE_TEST_ENV_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %s, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("SHRIKE_TEST_INT", "42")
	if got := GetEnvInt("SHRIKE_TEST_INT", 7); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}

	t.Setenv("SHRIKE_TEST_INT", "not-a-number")
	if got := GetEnvInt("SHRIKE_TEST_INT", 7); got != 7 {
		t.Fatalf("GetEnvInt returned %d, want the fallback", got)
	}

	if got := GetEnvInt("SHRIKE_TEST_INT_MISSING", 7); got != 7 {
		t.Fatalf("GetEnvInt returned %d, want the fallback", got)
	}
}
