package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/llamasoft/gorace/internal/mock"
)

var (
	flagMockHost string
	flagMockPort int
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run the local fixture server",
	Long: `Runs a loopback HTTP server with race-observation endpoints:

  /           200 ok
  /arrival    records a nanosecond arrival timestamp
  /arrivals   lists recorded arrivals (DELETE clears)
  /echo       echoes the request body
  /set-cookie sets each query parameter as a cookie
  /echo-cookie returns the request's Cookie header
  /stall      receives the request but delays the response

Useful for watching how tightly a race lands before pointing the
harness at a real target.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := mock.NewServer(&mock.Config{Host: flagMockHost, Port: flagMockPort})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := srv.Start(); err != nil {
			return err
		}
		fmt.Printf("fixture server listening on %s\n", srv.URL())

		<-ctx.Done()
		return srv.Stop()
	},
}

func init() {
	mockCmd.Flags().StringVar(&flagMockHost, "host", "127.0.0.1", "address to bind")
	mockCmd.Flags().IntVar(&flagMockPort, "port", 8080, "port to bind")
}
