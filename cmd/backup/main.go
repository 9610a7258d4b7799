// cmd/backup/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/gisops/layerkeeper/internal/app"
	"github.com/gisops/layerkeeper/internal/config"
	"github.com/gisops/layerkeeper/internal/infrastructure/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one backup+cleanup cycle and exit")
	gdriveAuth := flag.String("gdrive-auth", "", "path to Google client secret; starts the Drive OAuth helper server and exits on interrupt")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *gdriveAuth != "" {
		return runGDriveAuth(ctx, *gdriveAuth)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize app: %w", err)
	}
	defer application.Shutdown()

	return application.Run(ctx, *once)
}

func runGDriveAuth(ctx context.Context, clientSecretPath string) error {
	lg, err := logger.New("info", "")
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer lg.Close()

	oauthSvc, err := app.NewGoogleOAuthService(lg, clientSecretPath)
	if err != nil {
		return fmt.Errorf("initialize oauth service: %w", err)
	}

	if err := oauthSvc.StartAuthServer(ctx, ":8089"); err != nil {
		return fmt.Errorf("start oauth server: %w", err)
	}
	lg.Infof("Open http://localhost:8089/auth/google/drive to authorize")

	<-ctx.Done()
	return oauthSvc.Shutdown(context.Background())
}
