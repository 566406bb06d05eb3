package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/groundplane/groundplane/internal/domain"
	"github.com/groundplane/groundplane/internal/repository"
	"github.com/groundplane/groundplane/internal/service"
)

func ReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex <source-id>",
		Short: "Queue a reindex job for a knowledge source",
		Long: `Queue a fresh ingest job for an existing knowledge source.

The job is picked up by the running server's sweep worker. Use this to
recover sources whose last ingest failed or got stuck.`,
		Args: cobra.ExactArgs(1),
		RunE: runReindex,
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	sourceID := args[0]
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	sourceRepo := repository.NewSourceRepository(pool)
	jobRepo := repository.NewIngestJobRepository(pool)

	source, err := sourceRepo.GetByID(ctx, sourceID)
	if err != nil {
		if err == domain.ErrSourceNotFound {
			return fmt.Errorf("source not found: %s", sourceID)
		}
		return err
	}

	uuidGen := &service.DefaultUUIDGenerator{}
	job := domain.NewIngestJob(uuidGen.NewString(), source.ID, true, time.Now().UTC())
	if err := jobRepo.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to queue reindex job: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"job_id":    job.ID,
			"source_id": source.ID,
			"state":     job.State,
			"reindex":   true,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Reindex job %s queued for source %s (%s)\n", job.ID, source.ID, source.Title)
	}

	return nil
}
