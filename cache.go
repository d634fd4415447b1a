package main

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-json-experiment/json"

	"github.com/phobologic/markguard/internal/discover"
	"github.com/phobologic/markguard/internal/model"
	"github.com/phobologic/markguard/internal/rules"
)

// cacheKey holds every setting that changes what a lint run reports. A
// cached report is only reused when the key matches.
type cacheKey struct {
	Version      string    `json:"version"`
	Target       string    `json:"target"`
	Completion   string    `json:"completion"`
	IncludeTests bool      `json:"include_tests"`
	Ignore       []string  `json:"ignore"`
	MaxFileSize  int       `json:"max_file_size"`
	Rules        rules.Set `json:"rules"`
}

func (k cacheKey) fingerprint() (string, error) {
	data, err := json.Marshal(k, json.Deterministic(true), json.FormatNilSliceAsNull(false))
	if err != nil {
		return "", fmt.Errorf("encoding cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type cacheFile struct {
	Key    string        `json:"key"`
	Report *model.Report `json:"report"`
}

// loadCache returns the cached report when it is fresh and was produced
// with the same settings.
func loadCache(cachePath, key, root, configPath string, files []discover.FileEntry) (*model.Report, bool) {
	if !cacheIsFresh(cachePath, root, configPath, files) {
		return nil, false
	}
	c, err := readCache(cachePath)
	if err != nil || c.Key != key || c.Report == nil {
		return nil, false
	}
	return c.Report, true
}

func readCache(cachePath string) (*cacheFile, error) {
	data, err := os.ReadFile(cachePath)
	if err != nil {
		return nil, err
	}
	var c cacheFile
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding cache: %w", err)
	}
	return &c, nil
}

func writeCache(cachePath, key string, rep *model.Report) error {
	data, err := json.Marshal(cacheFile{Key: key, Report: rep},
		json.Deterministic(true),
		json.FormatNilSliceAsNull(false),
	)
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	return os.WriteFile(cachePath, append(data, '\n'), 0o644)
}

// cacheIsFresh reports whether the cache is newer than every file and the
// config file.
func cacheIsFresh(cachePath, root, configPath string, files []discover.FileEntry) bool {
	cacheInfo, err := os.Stat(cachePath)
	if err != nil {
		return false
	}
	cacheMtime := cacheInfo.ModTime()

	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil || !fi.ModTime().Before(cacheMtime) {
			return false
		}
	}

	for _, f := range files {
		fi, err := os.Stat(filepath.Join(root, f.Path))
		if err != nil {
			return false
		}
		if !fi.ModTime().Before(cacheMtime) {
			return false
		}
	}
	return true
}
