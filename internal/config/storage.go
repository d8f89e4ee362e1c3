package config

type StorageConfig struct {
	ReceiptsDir string
	BaseURL     string
}

func LoadStorageConfig() *StorageConfig {
	return &StorageConfig{
		ReceiptsDir: getEnv("STORAGE_RECEIPTS_DIR", "./data/receipts"),
		BaseURL:     getEnv("STORAGE_BASE_URL", ""),
	}
}
