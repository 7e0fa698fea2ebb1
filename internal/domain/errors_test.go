package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_Classified(t *testing.T) {
	err := NewFailure(FailureNetwork, errors.New("timeout"))
	if got := KindOf(err); got != FailureNetwork {
		t.Fatalf("expected network, got %s", got)
	}
}

func TestKindOf_SurvivesWrapping(t *testing.T) {
	inner := NewFailure(FailureAuth, errors.New("expired"))
	wrapped := fmt.Errorf("send message: %w", inner)
	if got := KindOf(wrapped); got != FailureAuth {
		t.Fatalf("expected auth through wrap, got %s", got)
	}
}

func TestKindOf_UnclassifiedDefaultsToServerRejected(t *testing.T) {
	if got := KindOf(errors.New("mystery")); got != FailureServerRejected {
		t.Fatalf("expected server_rejected default, got %s", got)
	}
}

func TestIsRetryable_OnlyNetwork(t *testing.T) {
	cases := []struct {
		kind FailureKind
		want bool
	}{
		{FailureNetwork, true},
		{FailureAuth, false},
		{FailureNotFound, false},
		{FailureServerRejected, false},
		{FailurePersistence, false},
		{FailureValidation, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(NewFailure(tc.kind, nil)); got != tc.want {
			t.Fatalf("kind %s: expected retryable=%v, got %v", tc.kind, tc.want, got)
		}
	}
}

func TestFailure_UnwrapsSentinel(t *testing.T) {
	sentinel := errors.New("queue busy")
	err := NewFailure(FailureValidation, sentinel)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel reachable through Failure")
	}
}
