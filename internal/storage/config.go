package storage

import "os"

// MinIOConfig is the connection settings for the edit-history archive
// bucket. An empty Endpoint means object storage is not configured and
// the archiver stays disabled.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

// LoadMinIOConfig reads the MINIO_* environment variables.
func LoadMinIOConfig() *MinIOConfig {
	cfg := &MinIOConfig{
		Endpoint:  os.Getenv("MINIO_ENDPOINT"),
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		Bucket:    os.Getenv("MINIO_BUCKET"),
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "doc-archive"
	}
	return cfg
}
