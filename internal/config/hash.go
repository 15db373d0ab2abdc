package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

const checksumsFilename = ".checksums"

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Lock writes (or refreshes) the .checksums manifest next to the config file,
// authorizing its current contents.
func Lock(configPath string) error {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", absPath, err)
	}

	manifestPath := filepath.Join(filepath.Dir(absPath), checksumsFilename)
	line := fmt.Sprintf("%s  %s\n", hash, filepath.Base(absPath))
	if err := os.WriteFile(manifestPath, []byte(line), 0o644); err != nil {
		return fmt.Errorf("failed to write checksums manifest: %w", err)
	}
	return nil
}

// VerifyConfigHash checks the config file against the .checksums manifest.
// A missing manifest skips verification; a mismatch is a hard failure.
func VerifyConfigHash(configPath string) error {
	manifestPath := filepath.Join(filepath.Dir(configPath), checksumsFilename)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read checksums manifest: %w", err)
	}

	base := filepath.Base(configPath)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[1] != base {
			continue
		}
		actual, err := ComputeBlake3Hash(configPath)
		if err != nil {
			return fmt.Errorf("failed to compute hash: %w", err)
		}
		if actual != fields[0] {
			return fmt.Errorf("config integrity check failed for %s: expected %s, got %s\n"+
				"Hint: run 'tower config lock' to authorize the current contents", base, fields[0], actual)
		}
		return nil
	}

	// Manifest exists but does not cover this file.
	return fmt.Errorf("config file %s not present in %s; run 'tower config lock'", base, manifestPath)
}
