package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/biorelay/sci-api-client/pkg/client"
)

func TestShouldFallback(t *testing.T) {
	m := NewManager(AllStrategies...)

	tests := []struct {
		name         string
		err          error
		wantStrategy Strategy
		wantMatch    bool
	}{
		{"connection error", &client.Error{Class: client.ErrorClassConnection}, StrategyNetwork, true},
		{"timeout error", &client.Error{Class: client.ErrorClassTimeout}, StrategyTimeout, true},
		{"server error 500", &client.Error{Class: client.ErrorClassHTTP, StatusCode: 500}, StrategyServerError, true},
		{"server error 503", &client.Error{Class: client.ErrorClassHTTP, StatusCode: 503}, StrategyServerError, true},
		{"rate limited 429", &client.Error{Class: client.ErrorClassHTTP, StatusCode: 429}, "", false},
		{"not found 404", &client.Error{Class: client.ErrorClassHTTP, StatusCode: 404}, "", false},
		{"decode error", &client.Error{Class: client.ErrorClassDecode}, "", false},
		{"circuit open", &client.CircuitOpenError{Destination: "api.example.org"}, "", false},
		{"cancelled", &client.Error{Class: client.ErrorClassCancelled}, "", false},
		{"plain error", errors.New("boom"), "", false},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy, match := m.ShouldFallback(tt.err)
			if match != tt.wantMatch || strategy != tt.wantStrategy {
				t.Errorf("ShouldFallback() = %q, %v, want %q, %v", strategy, match, tt.wantStrategy, tt.wantMatch)
			}
		})
	}
}

func TestShouldFallback_DisabledStrategy(t *testing.T) {
	m := NewManager(StrategyTimeout)

	if _, match := m.ShouldFallback(&client.Error{Class: client.ErrorClassConnection}); match {
		t.Error("network failures should not match when only timeout is enabled")
	}
	if _, match := m.ShouldFallback(&client.Error{Class: client.ErrorClassTimeout}); !match {
		t.Error("timeout failures should match")
	}
}

func TestDo_Success(t *testing.T) {
	m := NewManager(AllStrategies...)
	providerCalled := false

	result, err := Do(context.Background(), m,
		func(context.Context) ([]string, error) {
			return []string{"CHEMBL25"}, nil
		},
		func(context.Context) ([]string, error) {
			providerCalled = true
			return nil, nil
		})

	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if result.Degraded {
		t.Error("successful operation must not be degraded")
	}
	if len(result.Value) != 1 || result.Value[0] != "CHEMBL25" {
		t.Errorf("Value = %v", result.Value)
	}
	if providerCalled {
		t.Error("provider must not run when the operation succeeds")
	}
}

func TestDo_FallbackServed(t *testing.T) {
	m := NewManager(AllStrategies...)
	upstreamErr := &client.Error{Class: client.ErrorClassHTTP, StatusCode: 503, URL: "https://api.example.org"}

	result, err := Do(context.Background(), m,
		func(context.Context) (string, error) {
			return "", upstreamErr
		},
		Static("cached payload"))

	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if !result.Degraded {
		t.Error("fallback result must be marked degraded")
	}
	if result.Value != "cached payload" {
		t.Errorf("Value = %q", result.Value)
	}
	if !errors.Is(result.Cause, upstreamErr) {
		t.Errorf("Cause = %v, want the original failure", result.Cause)
	}
}

func TestDo_NoMatchPropagatesUnchanged(t *testing.T) {
	m := NewManager(AllStrategies...)
	notFound := &client.Error{Class: client.ErrorClassHTTP, StatusCode: 404}

	_, err := Do(context.Background(), m,
		func(context.Context) (int, error) { return 0, notFound },
		Static(42))

	if !errors.Is(err, notFound) {
		t.Errorf("err = %v, the original error must propagate unchanged", err)
	}
}

func TestDo_NilProviderPropagates(t *testing.T) {
	m := NewManager(AllStrategies...)
	upstreamErr := &client.Error{Class: client.ErrorClassTimeout}

	_, err := Do[int](context.Background(), m,
		func(context.Context) (int, error) { return 0, upstreamErr },
		nil)

	if !errors.Is(err, upstreamErr) {
		t.Errorf("err = %v, want original error without a provider", err)
	}
}

func TestDo_ProviderFailurePropagatesOriginal(t *testing.T) {
	m := NewManager(AllStrategies...)
	upstreamErr := &client.Error{Class: client.ErrorClassConnection}

	_, err := Do(context.Background(), m,
		func(context.Context) (string, error) { return "", upstreamErr },
		func(context.Context) (string, error) { return "", errors.New("cache unavailable") })

	if !errors.Is(err, upstreamErr) {
		t.Errorf("err = %v, provider failure must not replace the original error", err)
	}
}

func TestDo_NoStrategiesEnabled(t *testing.T) {
	m := NewManager()
	upstreamErr := &client.Error{Class: client.ErrorClassHTTP, StatusCode: 500}

	_, err := Do(context.Background(), m,
		func(context.Context) (string, error) { return "", upstreamErr },
		Static("never served"))

	if !errors.Is(err, upstreamErr) {
		t.Errorf("err = %v, want original error with no strategies enabled", err)
	}
}

func TestDo_RunsOperationExactlyOnce(t *testing.T) {
	m := NewManager(AllStrategies...)
	calls := 0

	start := time.Now()
	_, err := Do(context.Background(), m,
		func(context.Context) (string, error) {
			calls++
			return "", &client.Error{Class: client.ErrorClassTimeout}
		},
		Static("degraded"))
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("operation ran %d times, the fallback layer must never retry", calls)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("elapsed = %v, the fallback layer must never sleep", elapsed)
	}
}
