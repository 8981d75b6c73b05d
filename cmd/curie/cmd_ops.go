/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/curie/internal/auth"
	"github.com/friendsincode/curie/internal/catalog"
	"github.com/friendsincode/curie/internal/db"
	"github.com/friendsincode/curie/internal/planner"
	"github.com/friendsincode/curie/internal/server"
	"github.com/friendsincode/curie/internal/sweeper"
)

var (
	seedFile string

	planProduct  string
	planCustomer string
	planDelivery string
	planTarget   string
	planActivity float64
	planDoses    int

	tokenTTL   time.Duration
	tokenRoles []string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		database, err := db.Connect(cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close(database)

		if err := db.Migrate(database); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Str("backend", string(cfg.DBBackend)).Msg("migrations applied")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:     "seed",
	Short:   "Load products and customers from a YAML catalog",
	Example: `  curie seed --file catalog.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		// The file is applied below; keep NewServices from seeding twice.
		cfg.CatalogPath = ""
		services, err := server.NewServices(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer services.Close()

		f, err := catalog.LoadFile(seedFile)
		if err != nil {
			return err
		}
		products, customers, err := services.Catalog.Seed(cmd.Context(), f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d products, %d customers\n", products, customers)
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire lapsed TENTATIVE reservations once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		services, err := server.NewServices(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer services.Close()

		n, err := sweeper.New(services.Reservations, cfg.SweepInterval, logger).RunOnce(cmd.Context())
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d reservations\n", n)
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:     "plan",
	Short:   "Compute a production plan without booking capacity",
	Example: `  curie plan --product <id> --customer <id> --delivery 2026-06-02T12:00:00Z --activity 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		delivery, err := time.Parse(time.RFC3339, planDelivery)
		if err != nil {
			return fmt.Errorf("--delivery: %w", err)
		}
		req := planner.Request{
			ProductID:         planProduct,
			CustomerID:        planCustomer,
			DeliveryTime:      delivery,
			RequestedActivity: planActivity,
			DoseCount:         planDoses,
		}
		if planTarget != "" {
			target, err := time.Parse(time.RFC3339, planTarget)
			if err != nil {
				return fmt.Errorf("--target: %w", err)
			}
			req.TargetTime = &target
		}

		services, err := server.NewServices(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer services.Close()

		plan, err := services.Planner.Plan(cmd.Context(), req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <date>",
	Short: "Write the production schedule for a day to the export store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		services, err := server.NewServices(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer services.Close()

		res, err := services.Export.ExportDay(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s to %s (%d orders, %d bytes)\n", res.Key, res.Store, res.Orders, res.Bytes)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <client-id>",
	Short: "Issue a bearer token for a booking client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		if cfg.JWTSigningKey == "" {
			return fmt.Errorf("CURIE_JWT_SIGNING_KEY is not set")
		}
		token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{
			ClientID: args[0],
			Roles:    tokenRoles,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "Token lifetime")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "Roles to embed (repeatable)")

	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Catalog YAML file")
	_ = seedCmd.MarkFlagRequired("file")

	planCmd.Flags().StringVar(&planProduct, "product", "", "Product ID")
	planCmd.Flags().StringVar(&planCustomer, "customer", "", "Customer ID")
	planCmd.Flags().StringVar(&planDelivery, "delivery", "", "Delivery time (RFC3339)")
	planCmd.Flags().StringVar(&planTarget, "target", "", "Administration time (RFC3339), defaults to delivery")
	planCmd.Flags().Float64Var(&planActivity, "activity", 0, "Activity required at the target time")
	planCmd.Flags().IntVar(&planDoses, "doses", 0, "Dose count used for the capacity estimate")
	for _, name := range []string{"product", "customer", "delivery", "activity"} {
		_ = planCmd.MarkFlagRequired(name)
	}

	rootCmd.AddCommand(migrateCmd, seedCmd, sweepCmd, planCmd, exportCmd, tokenCmd)
}
