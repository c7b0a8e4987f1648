package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative path", "data/waingest.db", false},
		{"absolute path", "/var/lib/waingest/waingest.db", false},
		{"current dir file", "config.json", false},
		{"empty path", "", true},
		{"traversal", "../../../etc/passwd", true},
		{"embedded traversal", "data/../../etc/passwd", true},
		{"cleaned traversal", "data/./../../etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateStorageKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"sharded key", "ab/abcdef1234.pdf", false},
		{"flat key", "object.bin", false},
		{"empty", "", true},
		{"absolute", "/etc/passwd", true},
		{"dot only", ".", true},
		{"traversal prefix", "../outside", true},
		{"embedded traversal", "ab/../../outside", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStorageKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
