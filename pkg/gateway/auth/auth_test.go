package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseBearer(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc123", "abc123", true},
		{"Bearer   padded  ", "padded", true},
		{"bearer abc123", "", false},
		{"Basic abc123", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, ok := ParseBearer(r)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseBearer(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOwnerStableAndOpaque(t *testing.T) {
	p := &Principal{APIKey: "sk-test-1"}
	a, b := p.Owner(), p.Owner()
	if a != b {
		t.Errorf("owner not stable: %q vs %q", a, b)
	}
	if a == "sk-test-1" || len(a) == 0 {
		t.Errorf("owner leaks the raw key: %q", a)
	}
	other := &Principal{APIKey: "sk-test-2"}
	if other.Owner() == a {
		t.Error("distinct keys share an owner")
	}
}

func TestOwnerFromFallsBackToAnonymous(t *testing.T) {
	if got := OwnerFrom(context.Background()); got != "anonymous" {
		t.Errorf("OwnerFrom = %q", got)
	}
	ctx := WithPrincipal(context.Background(), &Principal{APIKey: "k"})
	if got := OwnerFrom(ctx); got == "anonymous" {
		t.Error("principal context resolved anonymous")
	}
}
