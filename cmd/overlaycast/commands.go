package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kikiluvv/overlaycast/internal/config"
	"github.com/kikiluvv/overlaycast/internal/logging"
	"github.com/kikiluvv/overlaycast/internal/overlay"
	"github.com/kikiluvv/overlaycast/internal/server"
)

var (
	serveAddr    string
	snapshotPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the video feed and overlay API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		a, err := newApp(log.Logger, cfg)
		if err != nil {
			return fatalf("startup: %w", err)
		}

		log.Info().
			Str("addr", cfg.Server.Addr).
			Int("overlays", a.store.Len()).
			Strs("assets", a.registry.List()).
			Int("quality", cfg.Encoder.Quality).
			Int("max_reconnects", cfg.Source.Reconnect.MaxAttempts).
			Msg("starting overlaycast")

		srv := server.New(logging.WithComponent("http"), a.pipeline, a.store, server.Options{
			Addr:              cfg.Server.Addr,
			ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
			CORSOrigins:       cfg.Server.CORSOrigins,
			Gatherer:          a.gatherer,
		})
		return srv.ListenAndServe(cmd.Context(), cfg.Server.ShutdownTimeout)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe [source url]",
	Short: "Probe a source and print its video stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		exec, err := newExecutor(log.Logger, cfg)
		if err != nil {
			return fatalf("failed to initialize ffmpeg: %w", err)
		}

		info, err := exec.ProbeVideo(cmd.Context(), args[0])
		if err != nil {
			return fatalf("probe %s: %w", args[0], err)
		}

		log.Info().
			Str("source", info.Source).
			Int("width", info.Width).
			Int("height", info.Height).
			Float64("fps", info.FPS).
			Str("codec", info.VideoCodec).
			Msg("source probed")

		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%dx%d\t%.2f fps\t%s\n",
			info.Source, info.Width, info.Height, info.FPS, info.VideoCodec)

		if snapshotPath != "" {
			if err := exec.Snapshot(cmd.Context(), args[0], snapshotPath); err != nil {
				return fatalf("%w", err)
			}
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:       "list [assets|overlays]",
	Short:     "List configured resources",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"assets", "overlays"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		out := cmd.OutOrStdout()

		switch args[0] {
		case "assets":
			reg := newRegistry(cfg)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, name := range reg.List() {
				path, _ := reg.Get(name)
				marker := ""
				if name == cfg.Overlays.DefaultLogo {
					marker = "(default)"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, path, marker)
			}
			return tw.Flush()

		case "overlays":
			store, err := overlay.NewMemoryStore(cfg.Overlays.Seed...)
			if err != nil {
				return fatalf("overlay seed: %w", err)
			}
			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			data, err := sonic.ConfigStd.MarshalIndent(list, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(data))
			return nil

		default:
			return fmt.Errorf("unknown resource %q (want assets or overlays)", args[0])
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.FromContext(cmd.Context()).Marshal()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "config.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fatalf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config written")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	probeCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "also save the first frame to this image file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
