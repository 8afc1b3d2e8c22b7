package imageprocess

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/gateway"
	"github.com/dunamismax/pixelgate/internal/gateway/local"
	"github.com/dunamismax/pixelgate/internal/gateway/oss"
	"github.com/dunamismax/pixelgate/internal/gateway/qiniu"
	"github.com/dunamismax/pixelgate/internal/storage"
)

// Configure wires the builtin backends to the disks and metadata client
// described by cfg. fs backs the local disk; nil means the OS filesystem.
// The local disk is returned so callers can read rendered variants.
func Configure(cfg config.Config, logger zerolog.Logger, observer gateway.RenderObserver, fs afero.Fs) (*Processor, *storage.LocalDisk, error) {
	disk := storage.NewLocalDisk(storage.LocalConfig{
		Root:      cfg.Local.Root,
		PublicURL: cfg.Local.PublicURL,
	}, fs)

	shared := gateway.Deps{
		Logger: logger,
		Fetcher: gateway.NewHTTPFetcher(gateway.FetcherConfig{
			Timeout:   cfg.Metadata.Timeout,
			VerifyTLS: cfg.Metadata.VerifyTLS,
		}),
		Observer: observer,
	}

	localDeps := shared
	localDeps.Disk = disk
	opts := []Option{
		WithDeps(shared),
		WithBackendDeps(local.Name, localDeps),
	}

	if cfg.OSS.Enabled() {
		ossDisk, err := storage.NewOSSDisk(storage.OSSConfig{
			Endpoint:  cfg.OSS.Endpoint,
			Key:       cfg.OSS.AccessKey,
			Secret:    cfg.OSS.SecretKey,
			Bucket:    cfg.OSS.Bucket,
			PublicURL: cfg.OSS.PublicURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configure oss disk: %w", err)
		}
		deps := shared
		deps.Locator = ossDisk
		opts = append(opts, WithBackendDeps(oss.Name, deps))
	}

	if cfg.Qiniu.Enabled() {
		kodo, err := storage.NewObjectDisk(storage.ObjectConfig{
			Endpoint:  cfg.Qiniu.Endpoint,
			Access:    cfg.Qiniu.AccessKey,
			Secret:    cfg.Qiniu.SecretKey,
			Bucket:    cfg.Qiniu.Bucket,
			UseSSL:    cfg.Qiniu.UseSSL,
			PublicURL: cfg.Qiniu.PublicURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("configure qiniu disk: %w", err)
		}
		deps := shared
		deps.Locator = kodo
		opts = append(opts, WithBackendDeps(qiniu.Name, deps))
	}

	p, err := New(Builtin(), cfg.Gateway.Default, opts...)
	if err != nil {
		return nil, nil, err
	}
	return p, disk, nil
}
