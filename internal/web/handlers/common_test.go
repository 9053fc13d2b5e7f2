package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/veritime/facegate/internal/constants"
)

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want int
	}{
		{"present", "/?limit=20", 20},
		{"absent", "/", 7},
		{"not a number", "/?limit=many", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if got := queryInt(r, "limit", 7); got != tt.want {
				t.Errorf("queryInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAuditLimit(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want int
	}{
		{"default", "/", constants.DefaultAuditLimit},
		{"explicit", "/?limit=10", 10},
		{"negative", "/?limit=-5", constants.DefaultAuditLimit},
		{"clamped", "/?limit=9999", constants.MaxAuditLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", tt.url, nil)
			if got := auditLimit(r); got != tt.want {
				t.Errorf("auditLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("gate-1\nfake log line\r"); got != "gate-1fake log line" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}
