package tools

import "testing"

func TestValidateLimitClauseAcceptsWithinBound(t *testing.T) {
	if err := validateLimitClause("SELECT * FROM parcels LIMIT 500"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateLimitClauseRejectsMissingLimit(t *testing.T) {
	if err := validateLimitClause("SELECT * FROM parcels"); err == nil {
		t.Fatal("expected an error for a query with no LIMIT clause")
	}
}

func TestValidateLimitClauseRejectsOverCap(t *testing.T) {
	if err := validateLimitClause("SELECT * FROM parcels LIMIT 1001"); err == nil {
		t.Fatal("expected an error for LIMIT over 1000")
	}
}

func TestValidateLimitClauseAcceptsExactlyAtCap(t *testing.T) {
	if err := validateLimitClause("SELECT * FROM parcels LIMIT 1000"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnforceResultCapAllowsUnderCap(t *testing.T) {
	if err := enforceResultCap(100, 25_000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnforceResultCapRejectsOverCap(t *testing.T) {
	if err := enforceResultCap(25_001, 25_000); err == nil {
		t.Fatal("expected an error once the result exceeds the character cap")
	}
}
