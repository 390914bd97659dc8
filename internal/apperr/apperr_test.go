package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := New(CodeNotFound, "bus not found")
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected errors.Is to match by code")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatal("did not expect conflict match")
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("resolve: %w", New(CodeConflict, "alert already resolved"))
	if got := CodeOf(wrapped); got != CodeConflict {
		t.Errorf("CodeOf = %q, want %q", got, CodeConflict)
	}
	if got := CodeOf(errors.New("boom")); got != CodeInternal {
		t.Errorf("CodeOf foreign = %q, want %q", got, CodeInternal)
	}
}

func TestWrap_UnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeUnavailable, "save bus", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.Error() != "save bus: disk full" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestInvalidField(t *testing.T) {
	err := InvalidField("latitude", "latitude must be between -90 and 90")
	appErr, ok := As(err)
	if !ok {
		t.Fatal("expected domain error")
	}
	if appErr.Field != "latitude" || appErr.Code != CodeInvalidArgument {
		t.Errorf("got field=%q code=%q", appErr.Field, appErr.Code)
	}
}

func TestCode_HTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeInvalidArgument: http.StatusBadRequest,
		CodeUnauthenticated: http.StatusUnauthorized,
		CodeForbidden:       http.StatusForbidden,
		CodeNotFound:        http.StatusNotFound,
		CodeConflict:        http.StatusConflict,
		CodeUnavailable:     http.StatusServiceUnavailable,
		CodeInternal:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := code.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", code, got, want)
		}
	}
}
