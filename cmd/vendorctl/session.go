package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	presence "github.com/mycelian/vendor-presence"
)

func newLoginCmd() *cobra.Command {
	var token, vendorID string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the vendor session used by every other command",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := c.Login(ctx, presence.Session{Token: token, VendorID: vendorID}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as vendor %s\n", vendorID)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Bearer token (required)")
	cmd.Flags().StringVar(&vendorID, "vendor-id", "", "Vendor ID (required)")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("vendor-id")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Go offline and forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := c.Logout(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the stored vendor id",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			s, err := c.Session(cmd.Context())
			if err != nil {
				return err
			}
			log.Debug().Str("vendor_id", s.VendorID).Msg("session loaded")
			fmt.Fprintf(cmd.OutOrStdout(), "Vendor: %s\n", s.VendorID)
			return nil
		},
	}
}
