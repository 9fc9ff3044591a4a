package storage

import (
	"context"
	"testing"
)

func TestReportKey(t *testing.T) {
	cases := map[string]string{
		"7b0c":         "attendance-reports/7b0c.json",
		"../etc/other": "attendance-reports/other.json",
	}
	for in, want := range cases {
		if got := ReportKey(in); got != want {
			t.Fatalf("ReportKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewS3_RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), S3Config{Region: "us-east-1"}, nil); err == nil {
		t.Fatal("expected error without reports bucket")
	}
}
