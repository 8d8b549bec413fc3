package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/mundiai/agent-runtime/internal/agent"
	"github.com/mundiai/agent-runtime/internal/apierr"
	"github.com/mundiai/agent-runtime/internal/store"
)

func TestMapServiceErrorValidation(t *testing.T) {
	err := apierr.NewValidationError("content", "is required")
	he := mapServiceError(err)
	if he.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", he.Code)
	}
}

func TestMapServiceErrorNotFound(t *testing.T) {
	for _, err := range []error{apierr.ErrNotFound, store.ErrNotFound} {
		he := mapServiceError(err)
		if he.Code != http.StatusNotFound {
			t.Fatalf("%v: got %d, want 404", err, he.Code)
		}
	}
}

func TestMapServiceErrorConflict(t *testing.T) {
	for _, err := range []error{apierr.ErrConflict, agent.ErrConversationLocked} {
		he := mapServiceError(err)
		if he.Code != http.StatusConflict {
			t.Fatalf("%v: got %d, want 409", err, he.Code)
		}
	}
}

func TestMapServiceErrorFallsBackToInternal(t *testing.T) {
	he := mapServiceError(errors.New("boom"))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", he.Code)
	}
}
