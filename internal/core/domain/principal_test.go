package domain

import (
	"errors"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	for _, username := range []string{"clerk", "warehouse.lead", "ops_2"} {
		if err := ValidateUsername(username); err != nil {
			t.Fatalf("expected %q to be accepted, got %v", username, err)
		}
	}
	for _, username := range []string{"", "   ", "clerk@example.com", "@clerk"} {
		if err := ValidateUsername(username); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("expected %q to be rejected, got %v", username, err)
		}
	}
}

func TestParsePrincipalStatus(t *testing.T) {
	if got := ParsePrincipalStatus("suspended"); got != PrincipalStatusSuspended {
		t.Fatalf("expected suspended, got %s", got)
	}
	if got := ParsePrincipalStatus("deleted"); got != PrincipalStatusInactive {
		t.Fatalf("unknown status must map to inactive, got %s", got)
	}
}
