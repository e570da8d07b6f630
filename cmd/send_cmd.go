package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <number> <message...>",
		Short: "Send a text message through a running gateway",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			gc, err := newGatewayClient()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			body := map[string]string{
				"to":      args[0],
				"message": strings.Join(args[1:], " "),
			}
			var resp struct {
				MessageID string `json:"messageId"`
			}
			if err := gc.call(http.MethodPost, "/send-message", body, &resp); err != nil {
				fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Sent (id %s).\n", resp.MessageID)
		},
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the WhatsApp connection of a running gateway",
		Run: func(cmd *cobra.Command, args []string) {
			gc, err := newGatewayClient()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			var resp struct {
				Message string `json:"message"`
			}
			if err := gc.call(http.MethodPost, "/connection/restart", nil, &resp); err != nil {
				fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(resp.Message)
		},
	}
}
