package agent

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsThrottling(t *testing.T) {
	throttled := []error{
		&ProviderError{Provider: "anthropic", StatusCode: 429, Message: "rate limited"},
		errors.New("429 too many requests"),
		errors.New("rate limit exceeded"),
		fmt.Errorf("call failed: %w", &ProviderError{StatusCode: 429, Message: "slow down"}),
	}
	for _, err := range throttled {
		if !IsThrottling(err) {
			t.Errorf("IsThrottling(%v) = false", err)
		}
	}

	notThrottled := []error{
		nil,
		errors.New("connection refused"),
		&ProviderError{StatusCode: 500, Message: "internal error"},
		&ProviderError{StatusCode: 413, Message: "prompt is too long"},
	}
	for _, err := range notThrottled {
		if IsThrottling(err) {
			t.Errorf("IsThrottling(%v) = true", err)
		}
	}
}

func TestIsContextOverflow(t *testing.T) {
	overflows := []error{
		&ProviderError{StatusCode: 413, Message: "request too large"},
		errors.New("prompt is too long: 210000 tokens > 200000 maximum"),
		fmt.Errorf("backend: %w", &ProviderError{StatusCode: 413}),
	}
	for _, err := range overflows {
		if !IsContextOverflow(err) {
			t.Errorf("IsContextOverflow(%v) = false", err)
		}
	}

	if IsContextOverflow(nil) || IsContextOverflow(errors.New("rate limit")) {
		t.Error("false positive overflow classification")
	}
}

func TestProviderErrorFormat(t *testing.T) {
	err := &ProviderError{Provider: "anthropic", StatusCode: 429, Message: "rate limited"}
	want := "anthropic: rate limited (status 429)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	cause := errors.New("boom")
	err = &ProviderError{Provider: "anthropic", Cause: cause}
	if err.Error() != "anthropic: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap does not expose cause")
	}
}
