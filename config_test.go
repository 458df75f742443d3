package queuectl

import (
	"context"
	"errors"
	"testing"
)

func TestNormalizeConfigKey(t *testing.T) {
	tests := []struct {
		In       string
		Expected string
	}{
		{"max-retries", "max_retries"},
		{"max_retries", "max_retries"},
		{"backoff-base", "backoff_base"},
		{"worker-poll-interval", "worker_poll_interval"},
		{"db-path", "db_path"},
	}

	for _, test := range tests {
		if want, have := test.Expected, NormalizeConfigKey(test.In); want != have {
			t.Fatalf("NormalizeConfigKey(%q): want %q, have %q", test.In, want, have)
		}
	}
}

func TestConfigHyphenUnderscoreEquivalence(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()

	if err := st.ConfigSet(ctx, NormalizeConfigKey("max-retries"), "5"); err != nil {
		t.Fatalf("ConfigSet failed with %v", err)
	}
	v, err := ConfigValue(ctx, st, "max_retries")
	if err != nil {
		t.Fatalf("ConfigValue failed with %v", err)
	}
	if want, have := "5", v; want != have {
		t.Fatalf("want %q, have %q", want, have)
	}
	v, err = ConfigValue(ctx, st, "max-retries")
	if err != nil {
		t.Fatalf("ConfigValue failed with %v", err)
	}
	if want, have := "5", v; want != have {
		t.Fatalf("want %q, have %q", want, have)
	}
}

func TestConfigDefaults(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()

	n, err := ConfigInt(ctx, st, ConfigMaxRetries)
	if err != nil {
		t.Fatalf("ConfigInt failed with %v", err)
	}
	if want, have := 3, n; want != have {
		t.Fatalf("want %d, have %d", want, have)
	}
	n, err = ConfigInt(ctx, st, ConfigBackoffBase)
	if err != nil {
		t.Fatalf("ConfigInt failed with %v", err)
	}
	if want, have := 2, n; want != have {
		t.Fatalf("want %d, have %d", want, have)
	}
}

func TestConfigUnknownKey(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()

	_, err := ConfigValue(ctx, st, "no_such_key")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, have %v", err)
	}
}

func TestConfigIntBadValueFallsBack(t *testing.T) {
	ctx := context.Background()
	st := NewInMemoryStore()

	if err := st.ConfigSet(ctx, ConfigWorkerPollInterval, "nonsense"); err != nil {
		t.Fatalf("ConfigSet failed with %v", err)
	}
	n, err := ConfigInt(ctx, st, ConfigWorkerPollInterval)
	if err != nil {
		t.Fatalf("ConfigInt failed with %v", err)
	}
	if want, have := 1, n; want != have {
		t.Fatalf("want %d, have %d", want, have)
	}
}
