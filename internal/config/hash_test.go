package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateChecksums(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("plugins_dir: ./plugins\n"), 0600); err != nil {
		t.Fatal(err)
	}

	manifest, err := GenerateChecksums(dir, []string{"config.yaml", "missing.yaml"})
	if err != nil {
		t.Fatalf("GenerateChecksums() failed: %v", err)
	}

	if len(manifest.Hashes) != 1 {
		t.Fatalf("len(manifest.Hashes) = %d, want 1 (missing files skipped)", len(manifest.Hashes))
	}
	if manifest.Hashes["config.yaml"] == "" {
		t.Fatal("config.yaml has no hash")
	}

	loaded, err := LoadChecksums(dir)
	if err != nil {
		t.Fatalf("LoadChecksums() failed: %v", err)
	}
	if loaded.Hashes["config.yaml"] != manifest.Hashes["config.yaml"] {
		t.Fatal("persisted hash differs from generated hash")
	}

	info, err := os.Stat(filepath.Join(dir, checksumFilename))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("checksums mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadChecksumsMissing(t *testing.T) {
	if _, err := LoadChecksums(t.TempDir()); err == nil {
		t.Fatal("LoadChecksums() succeeded without a manifest")
	}
}

func TestVerifyFileHash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("plugins_dir: ./plugins\n"), 0600); err != nil {
		t.Fatal(err)
	}

	hash, err := ComputeBlake3Hash(path)
	if err != nil {
		t.Fatalf("ComputeBlake3Hash() failed: %v", err)
	}

	if err := VerifyFileHash(path, hash); err != nil {
		t.Errorf("VerifyFileHash() with matching hash failed: %v", err)
	}
	if err := VerifyFileHash(path, "deadbeef"); err == nil {
		t.Error("VerifyFileHash() with wrong hash succeeded")
	}
}

func TestLoadRejectsTamperedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("plugins_dir: ./plugins\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := GenerateChecksums(dir, []string{"config.yaml"}); err != nil {
		t.Fatal(err)
	}

	// Locked config loads.
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() of locked config failed: %v", err)
	}

	// Modify after locking.
	if err := os.WriteFile(path, []byte("plugins_dir: ./evil\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() of tampered config succeeded")
	}
}
