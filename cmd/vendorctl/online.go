package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	presence "github.com/mycelian/vendor-presence"
	"github.com/mycelian/vendor-presence/internal/location"
)

func newOnlineCmd() *cobra.Command {
	var lat, lon float64
	var replay string
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "online",
		Short: "Publish the vendor location until interrupted",
		Long: "Takes the vendor online from a fixed position (--lat/--lon) or a JSON-lines\n" +
			"replay file (--replay), keeps publishing until SIGINT or --duration elapses,\n" +
			"then goes offline and removes the published location.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var src presence.LocationSource
			switch {
			case replay != "":
				r, err := location.NewReplaySource(replay)
				if err != nil {
					return err
				}
				src = r
			case cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon"):
				src = &location.StaticSource{Latitude: lat, Longitude: lon}
			default:
				return errors.New("either --replay or both --lat and --lon are required")
			}

			c, err := newClient(presence.WithLocationSource(src))
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			autoStopped := make(chan struct{}, 1)
			c.OnAvailabilityChange(func(available bool) {
				if !available {
					select {
					case autoStopped <- struct{}{}:
					default:
					}
				}
			})

			if err := c.Connect(ctx); err != nil {
				return err
			}
			startCtx, cancel := context.WithTimeout(ctx, requestTimeout)
			ok, err := c.GoAvailable(startCtx)
			cancel()
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("could not go online")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Online")

			var deadline <-chan time.Time
			if duration > 0 {
				timer := time.NewTimer(duration)
				defer timer.Stop()
				deadline = timer.C
			}
			select {
			case <-ctx.Done():
			case <-deadline:
			case <-autoStopped:
				stats := c.LocationStats()
				log.Warn().Int("failures", stats.ConsecutiveFailures).Msg("publishing stopped after repeated failures")
				fmt.Fprintln(cmd.OutOrStdout(), "Offline (publish failures)")
				return errors.New("location publishing stopped")
			}

			stopCtx, cancelStop := context.WithTimeout(context.Background(), requestTimeout)
			defer cancelStop()
			c.GoUnavailable(stopCtx)
			stats := c.LocationStats()
			log.Debug().Int("published", stats.Published).Int("deletes", stats.Deletes).Msg("tracking finished")
			fmt.Fprintf(cmd.OutOrStdout(), "Offline (published %d samples)\n", stats.Published)
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "Fixed latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "Fixed longitude")
	cmd.Flags().StringVar(&replay, "replay", "", "JSON-lines file of samples to replay")
	cmd.Flags().DurationVar(&duration, "duration", 0, "Go offline after this long (0 waits for SIGINT)")

	return cmd
}

func newLocationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locations",
		Short: "List the vendor's published locations",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			locs, err := c.Locations(ctx)
			if err != nil {
				return err
			}
			if len(locs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No published locations")
				return nil
			}
			for _, l := range locs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.6f,%.6f\t%s\n", l.ID, l.Latitude, l.Longitude, l.Address)
			}
			return nil
		},
	}
}
