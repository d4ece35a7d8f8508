package envload

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		in       string
		key, val string
		ok       bool
	}{
		{"FOO=bar", "FOO", "bar", true},
		{"export FOO=bar", "FOO", "bar", true},
		{`FOO="quoted value"`, "FOO", "quoted value", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"no-assignment", "", "", false},
		{"=value", "", "", false},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.in)
		if key != tc.key || val != tc.val || ok != tc.ok {
			t.Errorf("parseLine(%q) = %q, %q, %v; want %q, %q, %v", tc.in, key, val, ok, tc.key, tc.val, tc.ok)
		}
	}
}

func TestLoadFileDoesNotOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "ENVLOAD_TEST_NEW=from-file\nENVLOAD_TEST_SET=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ENVLOAD_TEST_SET", "from-env")
	os.Unsetenv("ENVLOAD_TEST_NEW")
	t.Cleanup(func() { os.Unsetenv("ENVLOAD_TEST_NEW") })

	if err := LoadFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("ENVLOAD_TEST_NEW"); got != "from-file" {
		t.Fatalf("new var = %q", got)
	}
	if got := os.Getenv("ENVLOAD_TEST_SET"); got != "from-env" {
		t.Fatalf("existing var overwritten: %q", got)
	}
}
