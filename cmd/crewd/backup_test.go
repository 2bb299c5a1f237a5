package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestSecurePath(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		want    string
		wantErr bool
	}{
		{"simple file", "crewd.db", filepath.Join("data", "crewd.db"), false},
		{"nested path", "nats/jetstream/stream.dat", filepath.Join("data", "nats", "jetstream", "stream.dat"), false},
		{"dot-slash prefix", "./crewd.db", filepath.Join("data", "crewd.db"), false},
		{"parent escape", "../outside", "", true},
		{"nested escape", "nats/../../outside", "", true},
		{"absolute path", "/etc/passwd", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := securePath("data", tt.entry)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("securePath(%q) = %q, want error", tt.entry, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("securePath(%q): %v", tt.entry, err)
			}
			if got != tt.want {
				t.Errorf("securePath(%q) = %q, want %q", tt.entry, got, tt.want)
			}
		})
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "data")
	writeTestFile(t, filepath.Join(srcDir, "crewd.db"), "sqlite bytes")
	writeTestFile(t, filepath.Join(srcDir, "nats", "jetstream", "stream.dat"), "stream bytes")

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := runBackup([]string{"-f", archive, "-d", srcDir}); err != nil {
		t.Fatalf("backup: %v", err)
	}

	dstDir := filepath.Join(t.TempDir(), "restored")
	if err := runRestore([]string{"-f", archive, "-d", dstDir}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	for path, want := range map[string]string{
		filepath.Join(dstDir, "crewd.db"):                        "sqlite bytes",
		filepath.Join(dstDir, "nats", "jetstream", "stream.dat"): "stream bytes",
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read restored file: %v", err)
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", path, data, want)
		}
	}
}

func TestRestoreRefusesNonEmptyDir(t *testing.T) {
	srcDir := filepath.Join(t.TempDir(), "data")
	writeTestFile(t, filepath.Join(srcDir, "crewd.db"), "sqlite bytes")

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := runBackup([]string{"-f", archive, "-d", srcDir}); err != nil {
		t.Fatalf("backup: %v", err)
	}

	dstDir := t.TempDir()
	writeTestFile(t, filepath.Join(dstDir, "existing.db"), "keep me")

	if err := runRestore([]string{"-f", archive, "-d", dstDir}); err == nil {
		t.Fatal("expected restore into non-empty dir to fail")
	}

	if err := runRestore([]string{"-f", archive, "-d", dstDir, "-overwrite"}); err != nil {
		t.Fatalf("restore with -overwrite: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "crewd.db")); err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
}

func TestBackupMissingFlags(t *testing.T) {
	if err := runBackup(nil); err == nil {
		t.Error("expected error without -f")
	}
	if err := runRestore(nil); err == nil {
		t.Error("expected error without -f")
	}
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
