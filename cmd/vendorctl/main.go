// Command vendorctl drives the presence layer from a terminal: it stores the
// vendor session, takes the vendor online from a fixed or replayed position
// and reads or writes chat messages.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	presence "github.com/mycelian/vendor-presence"
	"github.com/mycelian/vendor-presence/internal/config"
)

var (
	apiURL      string
	socketURL   string
	debug       bool
	metricsAddr string

	appCfg        *presence.Config
	metricsServer *http.Server
)

const requestTimeout = 15 * time.Second

func main() {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// NewRootCmd constructs the root CLI command; exposed for unit testing.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vendorctl",
		Short:         "Vendor presence and chat from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := presence.LoadConfig()
			if err != nil {
				return err
			}
			if apiURL != "" {
				cfg.APIURL = apiURL
				cfg.SocketURL = socketURL
			} else if socketURL != "" {
				cfg.SocketURL = socketURL
			}
			level := cfg.Level()
			if debug {
				cfg.Debug = true
				cfg.LogLevel = "debug"
				level = zerolog.DebugLevel
			}
			if err := cfg.ResolveDefaults(); err != nil {
				return err
			}
			config.InitLogger(cmd.ErrOrStderr(), level)
			log.Debug().Str("api_url", cfg.APIURL).Str("socket_url", cfg.SocketURL).Msg("configuration loaded")
			appCfg = cfg

			if metricsAddr != "" {
				return startMetrics(metricsAddr)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			stopMetrics()
		},
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Backend REST base URL (default $VENDOR_PRESENCE_API_URL)")
	rootCmd.PersistentFlags().StringVar(&socketURL, "socket-url", "", "Realtime socket URL (default derived from the API URL)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable verbose debug output")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newWhoamiCmd())
	rootCmd.AddCommand(newOnlineCmd())
	rootCmd.AddCommand(newLocationsCmd())
	rootCmd.AddCommand(newConversationsCmd())
	rootCmd.AddCommand(newChatCmd())

	return rootCmd
}

// newClient builds a presence client from the loaded configuration.
func newClient(opts ...presence.Option) (*presence.Client, error) {
	if appCfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return presence.New(*appCfg, append([]presence.Option{presence.WithLogger(log.Logger)}, opts...)...)
}

func startMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")
	return nil
}

func stopMetrics() {
	if metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(ctx)
	metricsServer = nil
}
