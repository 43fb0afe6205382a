package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("default")
	want := filepath.Join(home, ".crmsync", "workspaces", "default")
	if got != want {
		t.Errorf("Dir(default) = %q, want %q", got, want)
	}
}

func TestDBPath(t *testing.T) {
	got := DBPath("test")
	if !strings.HasSuffix(got, filepath.Join("workspaces", "test", "crm.db")) {
		t.Errorf("DBPath(test) = %q, want suffix workspaces/test/crm.db", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("workspaces", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix workspaces/test/LOCK", got)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "default", false},
		{"valid with numbers", "team42", false},
		{"valid with hyphen", "west-region", false},
		{"valid with underscore", "sales_emea", false},
		{"empty", "", true},
		{"uppercase", "Sales", true},
		{"space", "my workspace", true},
		{"dot", "my.workspace", true},
		{"slash", "my/workspace", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestResolvePrecedence(t *testing.T) {
	if got := Resolve("override"); got != "override" {
		t.Errorf("Resolve(override) = %q, want flag value", got)
	}
}
