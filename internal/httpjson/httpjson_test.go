package httpjson

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		allowEmpty bool
		wantErr    bool
		wantName   string
	}{
		{name: "object", body: `{"name":"Ada"}`, wantName: "Ada"},
		{name: "trailing whitespace", body: "{\"name\":\"Ada\"}\n\t ", wantName: "Ada"},
		{name: "trailing garbage", body: `{"name":"Ada"} nope`, wantErr: true},
		{name: "second value", body: `{"name":"Ada"}{"name":"Bob"}`, wantErr: true},
		{name: "truncated", body: `{"name":`, wantErr: true},
		{name: "empty rejected", body: ``, wantErr: true},
		{name: "empty allowed", body: ``, allowEmpty: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var v struct {
				Name string `json:"name"`
			}
			err := Decode(req, &v, tc.allowEmpty)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tc.wantErr)
			}
			if !tc.wantErr && v.Name != tc.wantName {
				t.Errorf("name = %q, want %q", v.Name, tc.wantName)
			}
		})
	}
}

func TestDecode_TrailingDataError(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{} []`))
	var v map[string]any
	if err := Decode(req, &v, false); !errors.Is(err, ErrTrailingData) {
		t.Errorf("Decode() = %v, want ErrTrailingData", err)
	}
}
