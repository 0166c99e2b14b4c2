package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"bytes numeric", "1024", 1024},
		{"bytes with B suffix", "1024B", 1024},
		{"kilobytes K", "1K", 1024},
		{"kilobytes KB", "1KB", 1024},
		{"megabytes M", "1M", 1024 * 1024},
		{"megabytes MB", "1MB", 1024 * 1024},
		{"megabytes large", "256M", 256 * 1024 * 1024},
		{"gigabytes G", "1G", 1024 * 1024 * 1024},
		{"gigabytes GB", "1GB", 1024 * 1024 * 1024},
		{"terabytes T", "1T", 1024 * 1024 * 1024 * 1024},
		{"zero", "0", 0},
		{"unlimited", "unlimited", 0},
		{"unlimited caps", "UNLIMITED", 0},
		{"empty string", "", 0},
		{"whitespace", "  2GB  ", 2 * 1024 * 1024 * 1024},
		{"invalid chars", "abc", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseMemorySize(tt.input)
			if got != tt.want {
				t.Errorf("parseMemorySize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatMemorySize(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{"zero", 0, "0 B"},
		{"bytes", 512, "512 B"},
		{"kilobytes", 1024, "1.00 KB"},
		{"kilobytes fractional", 1536, "1.50 KB"},
		{"megabytes", 1024 * 1024, "1.00 MB"},
		{"gigabytes", 1024 * 1024 * 1024, "1.00 GB"},
		{"terabytes", 1024 * 1024 * 1024 * 1024, "1.00 TB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatMemorySize(tt.bytes)
			if got != tt.want {
				t.Errorf("FormatMemorySize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("DefaultConfig() should validate cleanly, got: %v", err)
	}
	if c.Storage.StorageMode != "IN_MEMORY_TRANSACTIONAL" {
		t.Errorf("StorageMode = %q, want IN_MEMORY_TRANSACTIONAL", c.Storage.StorageMode)
	}
}

func TestLoadFromEnv(t *testing.T) {
	vars := map[string]string{
		"NORNICDB_DATA_DIR":                 "/tmp/nornicdb-test",
		"NORNICDB_STORAGE_MODE":             "IN_MEMORY_ANALYTICAL",
		"NORNICDB_PROPERTIES_ON_EDGES":      "false",
		"NORNICDB_MAX_PROPERTY_VALUE_BYTES": "2MB",
		"NORNICDB_DEFAULT_ISOLATION":        "READ_COMMITTED",
		"NORNICDB_WAL_ENABLED":              "false",
		"NORNICDB_SNAPSHOT_RETENTION":       "5",
		"NORNICDB_GC_INTERVAL":              "2s",
	}
	for k, v := range vars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range vars {
			os.Unsetenv(k)
		}
	}()

	c := LoadFromEnv()
	if c.Storage.DataDir != "/tmp/nornicdb-test" {
		t.Errorf("DataDir = %q, want /tmp/nornicdb-test", c.Storage.DataDir)
	}
	if c.Storage.StorageMode != "IN_MEMORY_ANALYTICAL" {
		t.Errorf("StorageMode = %q, want IN_MEMORY_ANALYTICAL", c.Storage.StorageMode)
	}
	if c.Storage.PropertiesOnEdges {
		t.Error("PropertiesOnEdges should be false")
	}
	if c.Storage.MaxPropertyValueBytes != 2*1024*1024 {
		t.Errorf("MaxPropertyValueBytes = %d, want 2MB", c.Storage.MaxPropertyValueBytes)
	}
	if c.Storage.WALEnabled {
		t.Error("WALEnabled should be false")
	}
	if c.Storage.SnapshotRetention != 5 {
		t.Errorf("SnapshotRetention = %d, want 5", c.Storage.SnapshotRetention)
	}
	if c.Storage.GCInterval != 2*time.Second {
		t.Errorf("GCInterval = %v, want 2s", c.Storage.GCInterval)
	}
}

func TestValidate(t *testing.T) {
	t.Run("rejects zero snapshot retention with a data dir", func(t *testing.T) {
		c := DefaultConfig()
		c.Storage.DataDir = "./data"
		c.Storage.SnapshotRetention = 0
		if err := c.Validate(); err == nil {
			t.Error("expected error for snapshot_retention=0 with data_dir set")
		}
	})

	t.Run("rejects unknown isolation level", func(t *testing.T) {
		c := DefaultConfig()
		c.Storage.DefaultIsolation = "EVENTUAL"
		if err := c.Validate(); err == nil {
			t.Error("expected error for unknown isolation level")
		}
	})

	t.Run("rejects unknown storage mode", func(t *testing.T) {
		c := DefaultConfig()
		c.Storage.StorageMode = "ON_DISK_MMAP"
		if err := c.Validate(); err == nil {
			t.Error("expected error for unknown storage mode")
		}
	})
}

func TestToStorageConfig(t *testing.T) {
	c := DefaultConfig()
	c.Storage.StorageMode = "IN_MEMORY_ANALYTICAL"
	sc := c.ToStorageConfig()
	if sc.StorageMode.String() != "IN_MEMORY_ANALYTICAL" {
		t.Errorf("StorageMode = %v, want IN_MEMORY_ANALYTICAL", sc.StorageMode)
	}
	if sc.MaxPropertyValueBytes != int(c.Storage.MaxPropertyValueBytes) {
		t.Errorf("MaxPropertyValueBytes mismatch: %d vs %d", sc.MaxPropertyValueBytes, c.Storage.MaxPropertyValueBytes)
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nornicdb.yaml")

	c := DefaultConfig()
	c.Storage.DataDir = filepath.Join(dir, "data")
	c.Storage.SnapshotRetention = 7

	if err := c.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if loaded.Storage.DataDir != c.Storage.DataDir {
		t.Errorf("DataDir = %q, want %q", loaded.Storage.DataDir, c.Storage.DataDir)
	}
	if loaded.Storage.SnapshotRetention != 7 {
		t.Errorf("SnapshotRetention = %d, want 7", loaded.Storage.SnapshotRetention)
	}
}
