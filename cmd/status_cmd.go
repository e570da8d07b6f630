package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the connection status of a running gateway",
		Run: func(cmd *cobra.Command, args []string) {
			gc, err := newGatewayClient()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			printStatus(gc)
			if watch {
				watchEvents(gc)
			}
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "stream events until interrupted")
	return cmd
}

func printStatus(gc *gatewayClient) {
	var health struct {
		Status           string `json:"status"`
		ClientReady      bool   `json:"clientReady"`
		ConnectionStatus string `json:"connectionStatus"`
	}
	if err := gc.call(http.MethodGet, "/health", nil, &health); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("  Gateway:    %s (%s)\n", health.Status, gc.base.Host)
	fmt.Printf("  Status:     %s\n", health.ConnectionStatus)
	fmt.Printf("  Ready:      %v\n", health.ClientReady)

	var conn struct {
		QRCode *string `json:"qrCode"`
	}
	if err := gc.call(http.MethodGet, "/connection", nil, &conn); err != nil {
		fmt.Printf("  Connection: %v\n", err)
		return
	}
	if conn.QRCode != nil {
		fmt.Printf("  Pairing:    QR pending, open http://%s/qr to scan\n", gc.base.Host)
	}
}

func watchEvents(gc *gatewayClient) {
	conn, err := gc.dialEvents()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	fmt.Println()
	fmt.Println("Watching events (Ctrl+C to stop)...")
	for {
		var ev struct {
			Event     string          `json:"event"`
			Payload   json.RawMessage `json:"payload"`
			Timestamp string          `json:"timestamp"`
		}
		if err := conn.ReadJSON(&ev); err != nil {
			fmt.Fprintf(os.Stderr, "Stream closed: %v\n", err)
			return
		}
		if len(ev.Payload) > 0 {
			fmt.Printf("  %s  %-22s %s\n", ev.Timestamp, ev.Event, string(ev.Payload))
		} else {
			fmt.Printf("  %s  %s\n", ev.Timestamp, ev.Event)
		}
	}
}
