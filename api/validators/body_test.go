package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
)

type sessionPayload struct {
	SessionID string `json:"session_id" validate:"required,startswith=cs_"`
	Note      string `json:"note,omitempty" validate:"max=5"`
}

func decode(t *testing.T, body string) (sessionPayload, error) {
	t.Helper()
	var dest sessionPayload
	req := httptest.NewRequest(http.MethodPost, "/checkout-success", strings.NewReader(body))
	return dest, DecodeJSONBody(req, &dest)
}

func TestDecodeJSONBodyAcceptsValidPayload(t *testing.T) {
	got, err := decode(t, `{"session_id":"cs_test_1"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SessionID != "cs_test_1" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestDecodeJSONBodyReportsFieldsByJSONName(t *testing.T) {
	_, err := decode(t, `{"session_id":"pi_1","note":"too long"}`)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, ok := typed.Details().(map[string]string)
	if !ok {
		t.Fatalf("unexpected details %T", typed.Details())
	}
	if details["session_id"] != "must start with cs_" || details["note"] != "must be at most 5" {
		t.Fatalf("unexpected details %v", details)
	}
}

func TestDecodeJSONBodyRejectsUnknownAndTrailing(t *testing.T) {
	if _, err := decode(t, `{"session_id":"cs_1","extra":true}`); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
	if _, err := decode(t, `{"session_id":"cs_1"}{"session_id":"cs_2"}`); err == nil {
		t.Fatal("expected trailing object to be rejected")
	}
}
