package onboarding

import (
	"testing"
)

func TestExtractFieldErrors(t *testing.T) {
	body := []byte(`{"errors": [{"field": "email", "message": "invalid"}, {"error": "too short"}]}`)
	errs := extractFieldErrors(body)
	if len(errs) != 2 {
		t.Fatalf("got %d errors: %+v", len(errs), errs)
	}
	if errs[0].Field != "email" || errs[0].Message != "invalid" {
		t.Errorf("first error = %+v", errs[0])
	}
	if errs[1].Message != "too short" {
		t.Errorf("second error = %+v", errs[1])
	}
}

func TestExtractFieldErrorsNestedPath(t *testing.T) {
	body := []byte(`{"data": {"errors": [{"field": "password", "message": "too weak"}]}}`)
	errs := extractFieldErrors(body)
	if len(errs) != 1 || errs[0].Field != "password" {
		t.Errorf("errors = %+v", errs)
	}
}

func TestExtractFieldErrorsEmpty(t *testing.T) {
	if errs := extractFieldErrors(nil); errs != nil {
		t.Errorf("nil body produced %+v", errs)
	}
	if errs := extractFieldErrors([]byte(`{"message": "fine"}`)); errs != nil {
		t.Errorf("no-errors body produced %+v", errs)
	}
}

func TestIsDuplicateEmailFailure(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   bool
	}{
		{409, "", true},
		{422, `{"error": "email already registered"}`, true},
		{400, `{"error": "email is taken"}`, true},
		{422, `{"errors": [{"field": "email", "message": "conflict"}]}`, true},
		{422, `{"error": "password too weak"}`, false},
		{500, `{"error": "email already registered"}`, false},
		{422, `{"error": "username already exists"}`, false},
	}
	for _, tc := range cases {
		if got := isDuplicateEmailFailure(tc.status, []byte(tc.body)); got != tc.want {
			t.Errorf("isDuplicateEmailFailure(%d, %q) = %v, want %v", tc.status, tc.body, got, tc.want)
		}
	}
}

func TestFindAuthTokens(t *testing.T) {
	body := []byte(`{"data": {"user": {"id": "u-1"}, "credentials": {"api_key": "key-1", "accessToken": "tok-1"}}, "meta": {"requestId": "r-9"}}`)
	tokens := findAuthTokens(body)
	if tokens == nil {
		t.Fatal("no tokens found")
	}
	if tokens["apikey"] != "key-1" {
		t.Errorf("apikey = %q", tokens["apikey"])
	}
	if tokens["accesstoken"] != "tok-1" {
		t.Errorf("accesstoken = %q", tokens["accesstoken"])
	}
	if _, ok := tokens["requestid"]; ok {
		t.Error("non-credential key captured")
	}
}

func TestFindAuthTokensNoMatch(t *testing.T) {
	if tokens := findAuthTokens([]byte(`{"ok": true}`)); tokens != nil {
		t.Errorf("tokens = %v", tokens)
	}
	if tokens := findAuthTokens([]byte(`not json`)); tokens != nil {
		t.Errorf("tokens from invalid JSON = %v", tokens)
	}
}

func TestCanonicalKey(t *testing.T) {
	for _, k := range []string{"apiKey", "api_key", "API-KEY", "apikey"} {
		if got := canonicalKey(k); got != "apikey" {
			t.Errorf("canonicalKey(%q) = %q", k, got)
		}
	}
}

func TestMatchesTokenAlias(t *testing.T) {
	if !matchesTokenAlias("api_key") {
		t.Error("api_key not recognized")
	}
	if !matchesTokenAlias("accessToken") {
		t.Error("accessToken not recognized")
	}
	if matchesTokenAlias("workspace") {
		t.Error("workspace wrongly recognized")
	}
}
