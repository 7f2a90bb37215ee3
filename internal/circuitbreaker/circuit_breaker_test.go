package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		Name:             "test",
		MaxFailures:      3,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
	})

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected underlying error, got %v", i, err)
		}
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen while open, got %v", err)
	}
}

func TestCircuitRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		Name:             "test",
		MaxFailures:      1,
		Timeout:          10 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	})

	_ = cb.Execute(func() error { return errBoom })
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe failed: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed after successful probe", cb.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(&Config{
		Name:             "test",
		MaxFailures:      2,
		Timeout:          time.Minute,
		HalfOpenMaxCalls: 1,
	})

	_ = cb.Execute(func() error { return errBoom })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBoom })

	if cb.State() != StateClosed {
		t.Errorf("state = %s, want closed (failures interleaved with success)", cb.State())
	}
}
