package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestBrokerError(t *testing.T) {
	t.Run("unreachable is retriable", func(t *testing.T) {
		err := NewUnreachableError("submit", "", errors.New("connection refused"))

		if !err.IsRetriable() {
			t.Error("Expected unreachable error to be retriable")
		}
		if !errors.Is(err, ErrBrokerUnreachable) {
			t.Error("Expected error to wrap ErrBrokerUnreachable")
		}
		if !IsRetriable(fmt.Errorf("place buy: %w", err)) {
			t.Error("IsRetriable should see through wrapping")
		}
	})

	t.Run("rejection is not retriable", func(t *testing.T) {
		err := NewRejectedError("submit", "42", "margin")

		if err.IsRetriable() {
			t.Error("Expected rejection to not be retriable")
		}
		if !errors.Is(err, ErrBrokerRejected) {
			t.Error("Expected error to wrap ErrBrokerRejected")
		}
		want := "submit 42: broker rejected\nmargin"
		if err.Error() != want {
			t.Errorf("Error message = %q, want %q", err.Error(), want)
		}
	})
}

func TestIsInformational(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{ErrPositionAlreadyActive, true},
		{fmt.Errorf("buy: %w", ErrSubmissionInProgress), true},
		{ErrNoActivePosition, true},
		{ErrInvalidSizing, false},
		{ErrBrokerRejected, false},
		{errors.New("plain"), false},
	}
	for _, c := range cases {
		if got := IsInformational(c.err); got != c.want {
			t.Errorf("IsInformational(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestConfigError(t *testing.T) {
	baseErr := errors.New("missing value")
	err := &ConfigError{Field: "trading.risk_levels", Err: baseErr}

	if err.IsRetriable() {
		t.Error("ConfigError should never be retriable")
	}

	expected := "config error [trading.risk_levels]: missing value"
	if err.Error() != expected {
		t.Errorf("Error message = %q, want %q", err.Error(), expected)
	}
}
