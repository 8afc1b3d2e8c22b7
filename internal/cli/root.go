// Package cli implements the pixelgate command line.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/domain"
	"github.com/dunamismax/pixelgate/internal/gateway"
	"github.com/dunamismax/pixelgate/internal/imageprocess"
	"github.com/dunamismax/pixelgate/internal/logging"
)

// Chains is what the commands need from a processor.
type Chains interface {
	Use(name string) gateway.Gateway
	Default() string
	Backends() []string
}

// App carries the seams the commands are built on.
type App struct {
	Load  func(path string) (config.Config, error)
	Build func(cfg config.Config, logger zerolog.Logger) (Chains, error)
}

// DefaultApp reads pixelgate.yaml and the environment and renders on the OS
// filesystem.
func DefaultApp() App {
	return App{
		Load: config.Load,
		Build: func(cfg config.Config, logger zerolog.Logger) (Chains, error) {
			p, _, err := imageprocess.Configure(cfg, logger, nil, nil)
			return p, err
		},
	}
}

type chainFlags struct {
	backend    string
	resize     string
	round      string
	watermarks []string
}

func NewRootCommand(app App) *cobra.Command {
	var (
		cfgPath string
		chains  Chains
	)

	root := &cobra.Command{
		Use:   "pixelgate",
		Short: "Build processed image URLs on local, OSS or Qiniu storage",
		Long: `pixelgate builds URLs for resized, rounded and watermarked images.

The local backend renders variants onto disk; the oss and qiniu backends
encode the operations into the provider's URL processing syntax.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Load(cfgPath)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Log, "pixelgate-cli", cmd.ErrOrStderr())
			chains, err = app.Build(cfg, logger)
			return err
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("PIXELGATE_CONFIG"), "path to a config file")

	get := func() Chains { return chains }
	root.AddCommand(newURLCommand(get), newInfoCommand(get), newBackendsCommand(get))
	return root
}

func newURLCommand(chains func() Chains) *cobra.Command {
	var flags chainFlags

	cmd := &cobra.Command{
		Use:   "url [path]",
		Short: "Print the URL of a processed image",
		Long: `Print the URL of a processed image.

Examples:
  pixelgate url photos/cat.jpg --resize 1:w=200,h=200 --round 20
  pixelgate url https://bucket.oss-cn-hangzhou.aliyuncs.com/a.jpg --backend oss \
      --watermark text:text=hello,gravity=southeast`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			c := chains()
			url, err := req.Apply(c.Use(backendOr(c, req.Backend))).URL(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.backend, "backend", "b", "", "backend name (defaults to the configured one)")
	cmd.Flags().StringVar(&flags.resize, "resize", "", "resize as MODE:k=v,... e.g. 1:w=100,h=100")
	cmd.Flags().StringVar(&flags.round, "round", "", "corner radius, or radiusx=X,radiusy=Y")
	cmd.Flags().StringArrayVar(&flags.watermarks, "watermark", nil, "watermark as KIND:k=v,...; repeat for more layers")
	return cmd
}

func newInfoCommand(chains func() Chains) *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "info [path]",
		Short: "Print size, format and dimensions of an image as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := chains()
			info, err := c.Use(backendOr(c, backend)).Path(args[0]).Info(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
	cmd.Flags().StringVarP(&backend, "backend", "b", "", "backend name (defaults to the configured one)")
	return cmd
}

func newBackendsCommand(chains func() Chains) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the available backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := chains()
			for _, name := range c.Backends() {
				marker := " "
				if name == c.Default() {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, name)
			}
			return nil
		},
	}
}

func (f chainFlags) request(path string) (domain.ChainRequest, error) {
	req := domain.ChainRequest{Backend: f.backend, Path: path}

	if strings.TrimSpace(f.resize) != "" {
		resize, err := parseResize(f.resize)
		if err != nil {
			return req, err
		}
		req.Resize = resize
	}
	if strings.TrimSpace(f.round) != "" {
		round, err := parseRound(f.round)
		if err != nil {
			return req, err
		}
		req.Round = round
	}
	for _, raw := range f.watermarks {
		step, err := parseWatermark(raw)
		if err != nil {
			return req, err
		}
		req.Watermarks = append(req.Watermarks, step)
	}
	return req, req.Validate()
}

func backendOr(c Chains, name string) string {
	if strings.TrimSpace(name) == "" {
		return c.Default()
	}
	return name
}
