/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathanielasun/songbase/internal/catalog"
	"github.com/nathanielasun/songbase/internal/db"
	"github.com/nathanielasun/songbase/internal/evaluator"
	"github.com/nathanielasun/songbase/internal/events"
	"github.com/nathanielasun/songbase/internal/smartplaylist"
)

var refreshTimeout time.Duration

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Materialize all smart playlists once and exit",
	Long:  "Evaluate every smart playlist against the current catalog and rewrite its entries, without starting the server",
	RunE:  runRefresh,
}

func init() {
	refreshCmd.Flags().DurationVar(&refreshTimeout, "timeout", 10*time.Minute, "abort the refresh after this duration")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return err
	}

	store := catalog.NewStore(database, logger)
	eval := evaluator.New(store, logger)
	svc := smartplaylist.New(database, eval, nil, events.NewBus(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	start := time.Now()
	if err := svc.RefreshAll(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("refresh complete")
	return nil
}
