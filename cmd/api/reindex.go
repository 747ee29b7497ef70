package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"testdocs/api/internal/search"
	"testdocs/api/internal/store"
)

func init() {
	RootCmd.AddCommand(&ReindexCommand)
}

var ReindexCommand = cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the Meilisearch documents index",
	Long:  "Push every stored document to Meilisearch. Requires MEILI_URL.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, cleanup, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		engine, closeEngine := searchEngine(rt.cfg, rt.logger)
		defer closeEngine()
		if engine == nil {
			return errors.New("MEILI_URL is not configured")
		}

		dataStore := store.NewPostgresStore(rt.db)
		docs, err := dataStore.ListAllDocuments(ctx)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}

		service := search.NewService(engine, search.NewStoreFallback(dataStore), rt.logger)
		sent, err := service.Reindex(docs)
		if err != nil {
			return err
		}
		rt.logger.Info("reindex finished", zap.Int("documents", sent))
		cmd.Printf("%d document(s) indexed\n", sent)
		return nil
	},
}
