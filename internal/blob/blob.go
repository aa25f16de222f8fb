// Package blob selects and re-exports the blob storage backends used to
// archive breeding certificates.
package blob

import (
	"context"
	"fmt"

	"dragonfarm/internal/blob/core"
	"dragonfarm/internal/infra/blob/fs"
	memorystore "dragonfarm/internal/infra/blob/memory"
	infraS3 "dragonfarm/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 backend.
	S3Config = infraS3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// Config selects a backend. FSRoot applies to the fs driver, S3 to the s3 driver.
type Config struct {
	Driver Driver   `env:"DRIVER" envDefault:"fs"`
	FSRoot string   `env:"FS_ROOT" envDefault:"./blobdata"`
	S3     S3Config `envPrefix:"S3_"`
}

// Open constructs the configured backend. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return fs.New(cfg.FSRoot)
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	case DriverMemory:
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
