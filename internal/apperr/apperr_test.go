package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Code]int{
		CodeFileRequired:      http.StatusBadRequest,
		CodeVideoNotFound:     http.StatusNotFound,
		CodeAllRenditionsFailed: http.StatusUnprocessableEntity,
		CodeQueueUnavailable:  http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeDBUnavailable, "failed to query video", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}

	appErr, ok := As(err)
	if !ok {
		t.Fatal("expected As to recognize the error")
	}
	if appErr.Code != CodeDBUnavailable {
		t.Errorf("got code %s, want %s", appErr.Code, CodeDBUnavailable)
	}
}

func TestWithDetails(t *testing.T) {
	err := New(CodeTitleTooLong, "title exceeds limit").WithDetails(map[string]interface{}{
		"max_length": 200,
	})
	if err.Details["max_length"] != 200 {
		t.Errorf("expected details to carry max_length")
	}
}
