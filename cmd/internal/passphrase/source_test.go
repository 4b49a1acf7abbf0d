package passphrase

import "testing"

func TestSourceReadsEnvironmentOnce(t *testing.T) {
	t.Setenv("EVERGREEN_TEST_PASS", "hunter2")
	src := NewSource("EVERGREEN_TEST_PASS", "owner keystore")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("unexpected passphrase %q", got)
	}
	t.Setenv("EVERGREEN_TEST_PASS", "changed")
	again, err := src.Get()
	if err != nil || again != "hunter2" {
		t.Fatalf("expected cached passphrase, got %q (%v)", again, err)
	}
}

func TestSourceRejectsBlankEnvironmentValue(t *testing.T) {
	t.Setenv("EVERGREEN_TEST_PASS", "  ")
	if _, err := NewSource("EVERGREEN_TEST_PASS", "").Get(); err == nil {
		t.Fatalf("expected blank passphrase to be rejected")
	}
}

func TestSourceAllowEmptyAcceptsBlankValue(t *testing.T) {
	t.Setenv("EVERGREEN_TEST_PASS", "")
	got, err := NewSource("EVERGREEN_TEST_PASS", "").AllowEmpty().Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty passphrase, got %q", got)
	}
}
