package snapshot

import (
	"context"
	"fmt"

	"consolecore/internal/config"
)

// Open selects a sink from cfg. Driver none returns a nil sink and no error.
func Open(ctx context.Context, cfg config.Snapshot) (Sink, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverNone
	}
	switch driver {
	case DriverNone:
		return nil, nil
	case DriverMemory:
		return NewMemory(), nil
	case DriverFilesystem:
		return NewFilesystem(cfg.Path)
	case DriverSQLite:
		return NewSQLite(ctx, cfg.Path)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.PostgresDSN)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			Key:       cfg.S3.Key,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}
