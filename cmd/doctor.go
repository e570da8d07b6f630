package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/whatsapp"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, configuration and storage health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("wagate doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults and environment)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Gateway:")
	fmt.Printf("    %-12s %s\n", "Listen:", cfg.Addr())
	checkSecret("API token:", cfg.Gateway.Token)
	checkDir("Downloads:", cfg.Gateway.DownloadsDir)
	if cfg.Webhook.URL != "" {
		fmt.Printf("    %-12s %s\n", "Webhook:", cfg.Webhook.URL)
	} else {
		fmt.Printf("    %-12s (not configured)\n", "Webhook:")
	}

	fmt.Println()
	fmt.Println("  Storage:")
	checkSessionStore(cfg.WhatsApp)
	checkHistory(cfg.WhatsApp.HistoryPath)

	fmt.Println()
	checkRunning()

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkSecret(label, value string) {
	if value == "" {
		fmt.Printf("    %-12s NOT SET (all API calls will be rejected)\n", label)
		return
	}
	fmt.Printf("    %-12s set (%d chars)\n", label, len(value))
}

func checkDir(label, dir string) {
	if dir == "" {
		fmt.Printf("    %-12s (disabled)\n", label)
		return
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		fmt.Printf("    %-12s %s (NOT FOUND)\n", label, dir)
		return
	}
	fmt.Printf("    %-12s %s (OK)\n", label, dir)
}

func checkSessionStore(cfg config.WhatsAppConfig) {
	switch cfg.Dialect {
	case config.DialectPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			fmt.Printf("    %-12s postgres (ERROR: %v)\n", "Session:", err)
			return
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			fmt.Printf("    %-12s postgres (UNREACHABLE: %v)\n", "Session:", err)
			return
		}
		fmt.Printf("    %-12s postgres (OK)\n", "Session:")
	default:
		fmt.Printf("    %-12s sqlite %s\n", "Session:", cfg.DSN)
	}
}

func checkHistory(path string) {
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		fmt.Printf("    %-12s %s (directory will be created on start)\n", "History:", path)
		return
	}
	store, err := whatsapp.OpenHistory(path)
	if err != nil {
		fmt.Printf("    %-12s %s (ERROR: %v)\n", "History:", path, err)
		return
	}
	store.Close()
	fmt.Printf("    %-12s %s (OK)\n", "History:", path)
}

func checkRunning() {
	gc, err := newGatewayClient()
	if err != nil {
		return
	}
	var health struct {
		ConnectionStatus string `json:"connectionStatus"`
	}
	if err := gc.call(http.MethodGet, "/health", nil, &health); err != nil {
		fmt.Printf("  Running:  no (%s)\n", gc.base.Host)
		return
	}
	fmt.Printf("  Running:  yes (%s, %s)\n", gc.base.Host, health.ConnectionStatus)
}
