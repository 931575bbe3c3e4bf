// defense-check is the pre-flight diagnostic. It probes every dependency the
// defense services need and prints a per-component verdict, so a broken
// deployment fails loudly before any traffic arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/rhamenator/ai-scraping-defense-sub001/internal/config"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/gen"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/httpclient"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/kv"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/markov"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/metrics"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/model"
	"github.com/rhamenator/ai-scraping-defense-sub001/internal/robots"
)

const probeTimeout = 5 * time.Second

type component struct {
	name string
	test func(ctx context.Context, cfg *config.Config) error
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	fmt.Println("\033[96mScraping Defense - Pre-Flight Diagnostic\033[0m")
	fmt.Println("---------------------------------------------------------")

	components := []component{
		{"Configuration (seed, knobs)", checkConfig},
		{"Shared State (Redis)", checkRedis},
		{"Decoy Corpus (Postgres)", checkCorpus},
		{"Robots Artifact", checkRobots},
		{"Decoy Generation", checkGeneration},
		{"Model Adapter", checkModel},
		{"Config Overlay (YAML)", checkOverlay},
	}

	failures := 0
	for _, c := range components {
		fmt.Printf("Checking %-28s ", c.name+"...")
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		err := c.test(ctx, cfg)
		cancel()
		if err != nil {
			failures++
			fmt.Println("\033[31m[FAIL]\033[0m")
			fmt.Printf("  >> %v\n", err)
		} else {
			fmt.Println("\033[32m[OK]\033[0m")
		}
	}

	fmt.Println("---------------------------------------------------------")
	if failures > 0 {
		fmt.Printf("\033[31mStatus: %d component(s) failing.\033[0m\n", failures)
		os.Exit(1)
	}
	fmt.Println("\033[96mStatus: ready for traffic.\033[0m")
}

func checkConfig(_ context.Context, cfg *config.Config) error {
	return cfg.Validate()
}

// checkRedis pings every logical database the services use. A distinct DB
// number failing usually means a misconfigured REDIS_DB_* variable.
func checkRedis(ctx context.Context, cfg *config.Config) error {
	dbs := map[string]int{
		"blocklist":    cfg.RedisDB.Blocklist,
		"tarpit":       cfg.RedisDB.Tarpit,
		"frequency":    cfg.RedisDB.Frequency,
		"hops":         cfg.RedisDB.HopCounts,
		"fingerprints": cfg.RedisDB.Fingerprints,
	}
	for name, db := range dbs {
		client, err := kv.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, db)
		if err != nil {
			return fmt.Errorf("%s (db %d): %w", name, db, err)
		}
		_, err = client.Exists(ctx, "health:probe")
		client.Close()
		if err != nil {
			return fmt.Errorf("%s (db %d): %w", name, db, err)
		}
	}
	return nil
}

func checkCorpus(ctx context.Context, cfg *config.Config) error {
	if cfg.MarkovDatabaseURL == "" {
		return fmt.Errorf("MARKOV_DATABASE_URL unset (tarpit will serve canned content)")
	}
	corpus, err := markov.OpenPostgres(cfg.MarkovDatabaseURL)
	if err != nil {
		return err
	}
	defer corpus.Close()
	if _, err := corpus.Candidates(ctx, markov.Boundary, markov.Boundary); err != nil {
		return fmt.Errorf("corpus query: %w", err)
	}
	return nil
}

func checkRobots(_ context.Context, cfg *config.Config) error {
	content, err := os.ReadFile(cfg.RobotsFilePath)
	if err != nil {
		return err
	}
	rs := robots.Parse(string(content))
	if rs.Raw() == "" {
		return fmt.Errorf("%s is empty", cfg.RobotsFilePath)
	}
	return nil
}

// checkGeneration renders one page and re-renders it, verifying the
// determinism the whole tarpit depends on.
func checkGeneration(ctx context.Context, cfg *config.Config) error {
	corpus := markov.NewMemoryCorpus()
	corpus.AddSentence("the", "archive", "rebuild", "continues")
	g := gen.New(corpus, cfg.SystemSeed, "/tarpit")

	a := gen.RenderHTML(g.Page(ctx, "/probe"), false)
	b := gen.RenderHTML(g.Page(ctx, "/probe"), false)
	if string(a) != string(b) {
		return fmt.Errorf("page generation is not deterministic")
	}
	return nil
}

// checkModel builds the configured adapter once, without the services' retry
// budget. A heuristic-only deployment passes trivially; a configured model
// that degrades to absent fails the check.
func checkModel(_ context.Context, cfg *config.Config) error {
	uri := cfg.ModelURI
	if uri == "" || uri == "heuristic" {
		return nil
	}
	client := httpclient.New(metrics.Default())
	adapter := model.New(model.Options{
		URI:         uri,
		APIKey:      cfg.ModelAPIKey,
		Timeout:     cfg.ModelTimeout,
		InitRetries: 1,
	}, client)
	if adapter.Name() == "absent" {
		return fmt.Errorf("MODEL_URI %q did not produce a usable adapter", uri)
	}
	return nil
}

func checkOverlay(_ context.Context, cfg *config.Config) error {
	_, err := config.LoadOverlay(cfg.OverlayPath)
	return err
}
