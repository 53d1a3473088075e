package reserr

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestError_ErrorStringAndCode(t *testing.T) {
	e := New("myapp.notFound", "thing not found")
	if e.Error() != "myapp.notFound: thing not found" {
		t.Errorf("Error() = %q", e.Error())
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	e := NotFound("users.1")
	if !errors.Is(e, &Error{Code: CodeNotFound}) {
		t.Error("errors.Is should match on Code alone")
	}
	if errors.Is(e, &Error{Code: CodeInvalidParams}) {
		t.Error("errors.Is should not match a different Code")
	}
}

func TestFromResult_DecodesServerError(t *testing.T) {
	raw := json.RawMessage(`{"code":"system.invalidParams","message":"bad method param"}`)
	e, err := FromResult(raw)
	if err != nil {
		t.Fatalf("FromResult: %v", err)
	}
	if e.Code != CodeInvalidParams || e.Message != "bad method param" {
		t.Errorf("decoded = %+v", e)
	}
}

func TestConnectionError_WrapsCause(t *testing.T) {
	e := ConnectionError(errors.New("dial timeout"))
	if e.Code != CodeConnectionError {
		t.Errorf("Code = %q, want %q", e.Code, CodeConnectionError)
	}
	if e.Message != "dial timeout" {
		t.Errorf("Message = %q, want dial timeout", e.Message)
	}
}

func TestConnectionError_NilCauseHasGenericMessage(t *testing.T) {
	e := ConnectionError(nil)
	if e.Message == "" {
		t.Error("nil cause should still produce a non-empty message")
	}
}
