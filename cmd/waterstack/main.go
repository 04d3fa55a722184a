package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"waterstack/internal/catalog"
	"waterstack/internal/pipeline"
	"waterstack/internal/registry"
	"waterstack/internal/retriever"
	"waterstack/internal/roi"
	"waterstack/internal/status"
	"waterstack/internal/store"
)

var cli struct {
	Boundary string `arg:"" help:"GeoJSON boundary file, or a directory of .geojson files." type:"path"`

	Sources string `help:"Source registry YAML file." default:"sources.yaml" env:"WATERSTACK_SOURCES"`
	Output  string `short:"o" help:"Output directory." default:"output" env:"WATERSTACK_OUTPUT"`

	StartYear  int `help:"First year to process." required:"" env:"WATERSTACK_START_YEAR"`
	EndYear    int `help:"Last year to process." required:"" env:"WATERSTACK_END_YEAR"`
	StartMonth int `help:"First month of each yearly report." default:"1"`
	EndMonth   int `help:"Last month of each yearly report." default:"12"`

	InputDir string `help:"Local directory of subset files." env:"WATERSTACK_INPUT_DIR"`

	S3Bucket          string `help:"S3 bucket holding subset files." env:"WATERSTACK_S3_BUCKET"`
	S3Prefix          string `help:"Key prefix within the bucket." env:"WATERSTACK_S3_PREFIX"`
	S3Region          string `help:"Bucket region." env:"AWS_REGION"`
	S3Endpoint        string `help:"Custom S3 endpoint (MinIO, Garage)." env:"WATERSTACK_S3_ENDPOINT"`
	S3AccessKeyID     string `help:"Static access key; default chain when empty." env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	FTPAddr     string `help:"FTP mirror address (host:port)." env:"WATERSTACK_FTP_ADDR"`
	FTPUser     string `env:"WATERSTACK_FTP_USER"`
	FTPPassword string `env:"WATERSTACK_FTP_PASSWORD"`
	FTPDir      string `help:"Remote directory holding subsets." env:"WATERSTACK_FTP_DIR"`

	DB            string `help:"SQLite database path." default:"data/waterstack.db" env:"WATERSTACK_DB"`
	StatusFile    string `help:"Append progress lines to this file."`
	UseStackCache bool   `help:"Reuse reconciled stacks from previous runs."`
	StacEndpoint  string `help:"STAC search endpoint for satellite pass counts."`
	NoPassCounts  bool   `help:"Skip satellite pass-count annotation on figures."`
	MetricsAddr   string `help:"Serve Prometheus metrics on this address (e.g. :9090)."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("waterstack"),
		kong.Description("Reconciles mixed-cadence ET/PET/PPT rasters into per-region monthly water-use reports."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	if cli.StartMonth < 1 || cli.EndMonth > 12 || cli.StartMonth > cli.EndMonth {
		log.Fatalf("invalid month range %d..%d", cli.StartMonth, cli.EndMonth)
	}
	if cli.EndYear < cli.StartYear {
		log.Fatalf("end year %d precedes start year %d", cli.EndYear, cli.StartYear)
	}

	reg, err := registry.Load(cli.Sources)
	if err != nil {
		log.Fatalf("load source registry: %v", err)
	}

	regions, err := loadRegions(cli.Boundary)
	if err != nil {
		log.Fatalf("load boundaries: %v", err)
	}
	log.Printf("loaded %d region(s)", len(regions))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	source, err := buildRetriever(ctx, reg)
	if err != nil {
		log.Fatalf("configure subset store: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cli.DB), 0755); err != nil {
		log.Fatalf("create database directory: %v", err)
	}
	db, err := sql.Open("sqlite", cli.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database migrated")

	var cat *catalog.Landsat
	if !cli.NoPassCounts {
		cat = catalog.NewLandsat(cli.StacEndpoint, filepath.Join(cli.Output, "cache"))
	}

	if cli.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Printf("metrics listening on %s", cli.MetricsAddr)
			if err := http.ListenAndServe(cli.MetricsAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	p := &pipeline.Pipeline{
		Registry:      reg,
		Retriever:     source,
		Store:         st,
		Catalog:       cat,
		Status:        status.NewWriter(cli.StatusFile),
		OutputDir:     cli.Output,
		StartMonth:    time.Month(cli.StartMonth),
		EndMonth:      time.Month(cli.EndMonth),
		UseStackCache: cli.UseStackCache,
	}

	started := time.Now()
	if err := p.Run(ctx, regions, cli.StartYear, cli.EndYear); err != nil {
		log.Fatalf("batch failed: %v", err)
	}
	log.Printf("batch complete in %s", time.Since(started).Round(time.Second))
}

func loadRegions(path string) ([]*roi.ROI, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		region, err := roi.Load(path)
		if err != nil {
			return nil, err
		}
		return []*roi.ROI{region}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var regions []*roi.ROI
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".geojson") {
			continue
		}
		region, err := roi.Load(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, err
		}
		regions = append(regions, region)
	}
	if len(regions) == 0 {
		return nil, fmt.Errorf("no .geojson files in %s", path)
	}
	return regions, nil
}

func buildRetriever(ctx context.Context, reg *registry.Registry) (retriever.Retriever, error) {
	switch {
	case cli.S3Bucket != "":
		return retriever.NewS3(ctx, retriever.S3Config{
			Bucket:          cli.S3Bucket,
			Prefix:          cli.S3Prefix,
			Region:          cli.S3Region,
			Endpoint:        cli.S3Endpoint,
			AccessKeyID:     cli.S3AccessKeyID,
			SecretAccessKey: cli.S3SecretAccessKey,
		}, reg)
	case cli.FTPAddr != "":
		return retriever.NewFTP(retriever.FTPConfig{
			Addr:     cli.FTPAddr,
			User:     cli.FTPUser,
			Password: cli.FTPPassword,
			Dir:      cli.FTPDir,
		}, reg), nil
	case cli.InputDir != "":
		return retriever.NewLocal(cli.InputDir, reg), nil
	}
	return nil, fmt.Errorf("one of --input-dir, --s3-bucket or --ftp-addr is required")
}
