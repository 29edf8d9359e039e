// internal/storage/archive/s3_test.go
package archive

import (
	"errors"
	"testing"

	"github.com/newthinker/quantsim/internal/core"
)

func TestS3Storage_ImplementsStorage(t *testing.T) {
	var _ Storage = (*S3Storage)(nil)
}

func TestS3Storage_Key(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "file.json", "file.json"},
		{"archive", "file.json", "archive/file.json"},
		{"archive/", "runs/rsi/a.json", "archive/runs/rsi/a.json"},
		{"/archive/", "/file.json", "archive/file.json"},
	}

	for _, tt := range tests {
		s, err := NewS3(S3Config{Bucket: "results", Prefix: tt.prefix})
		if err != nil {
			t.Fatalf("NewS3: %v", err)
		}
		if got := s.key(tt.path); got != tt.want {
			t.Errorf("key(%q) with prefix %q = %q, want %q", tt.path, tt.prefix, got, tt.want)
		}
	}
}

func TestS3Storage_Relative(t *testing.T) {
	s, _ := NewS3(S3Config{Bucket: "results", Prefix: "archive"})
	if got := s.relative("archive/runs/a.json"); got != "runs/a.json" {
		t.Errorf("relative = %q, want runs/a.json", got)
	}
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(S3Config{})
	if !errors.Is(err, core.ErrConfigMissing) {
		t.Errorf("NewS3() = %v, want CONFIG_MISSING", err)
	}
}
