// Manual smoke tool for the row store client. Points at whatever
// STORE_URL is configured and prints what one page of each tab looks
// like, plus the independent counts.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/creatorhq/mentions-sync/internal/config"
	"github.com/creatorhq/mentions-sync/internal/mapper"
	"github.com/creatorhq/mentions-sync/internal/models"
	"github.com/creatorhq/mentions-sync/internal/query"
	"github.com/creatorhq/mentions-sync/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := store.NewRestStore(cfg.StoreURL, cfg.StoreAPIKey, cfg.StoreSchema)
	if err != nil {
		log.Fatalf("Failed to create store client: %v", err)
	}

	ctx := context.Background()
	tabs := []models.Tab{models.TabAll, models.TabScheduled, models.TabPosted, models.TabFavorites}

	for _, tab := range tabs {
		q, ok := query.Build(query.Params{
			ProjectID: cfg.ProjectID,
			Tab:       tab,
			Page:      1,
			PageSize:  cfg.ItemsPerPage,
		})
		if !ok {
			log.Fatal("PROJECT_ID is not set")
		}

		rows, err := st.Select(ctx, q)
		if err != nil {
			log.Fatalf("Select for tab %s failed: %v", tab, err)
		}

		total := len(rows)
		if !q.Unpaginated {
			total, err = st.Count(ctx, q)
			if err != nil {
				log.Fatalf("Count for tab %s failed: %v", tab, err)
			}
		}

		mentions := mapper.MapAll(rows)
		fmt.Printf("tab=%s total=%d page1=%d\n", tab, total, len(mentions))
		for _, m := range mentions {
			fmt.Printf("  %s  [%s]  %q by %s (%s)\n", m.ID, m.Response.Status, m.Video.Title, m.Comment.Author, m.Comment.Published)
		}
	}
}
