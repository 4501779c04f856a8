// Copyright 2023 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command estransport-example wires a Transport from flags/environment
// and issues one request against it. It demonstrates the "top-level
// client" construction that the core estransport package deliberately
// stays out of.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nodetransport/estransport"
	"github.com/nodetransport/estransport/conn"
	"github.com/nodetransport/estransport/logging"
	"github.com/nodetransport/estransport/pool"
)

var rootCmd = &cobra.Command{
	Use:     "estransport-example",
	Short:   "Issue one request through an estransport.Transport",
	Long:    `Constructs a Transport from flags or environment variables (prefixed ESTRANSPORT_) and performs one request against it.`,
	PreRunE: bindFlags,
	RunE:    run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringSlice("nodes", []string{"http://localhost:9200"}, "Comma-separated list of node URLs")
	rootCmd.PersistentFlags().String("cloud-id", "", "Hosted cluster cloud id; overrides --nodes")
	rootCmd.PersistentFlags().String("username", "", "Basic auth username")
	rootCmd.PersistentFlags().String("password", "", "Basic auth password")
	rootCmd.PersistentFlags().Int("max-retries", 3, "Maximum retry attempts per request")
	rootCmd.PersistentFlags().Duration("request-timeout", 30*time.Second, "Per-attempt request timeout")
	rootCmd.PersistentFlags().Bool("sniff-on-start", false, "Sniff the cluster's node list once at startup")
	rootCmd.PersistentFlags().Duration("sniff-interval", 0, "Re-sniff the cluster on this interval (0 disables)")
	rootCmd.PersistentFlags().String("method", http.MethodGet, "HTTP method to issue")
	rootCmd.PersistentFlags().String("path", "/", "Request path to issue")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("trace", false, "Print one OpenTelemetry span per request/attempt to stdout")
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func initConfig() {
	_ = godotenv.Load(".env")
	viper.SetEnvPrefix("estransport")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func run(_ *cobra.Command, _ []string) error {
	logger := logrus.New()
	level, err := logrus.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	var auth *conn.Credentials
	if username := viper.GetString("username"); username != "" {
		auth = &conn.Credentials{Username: username, Password: viper.GetString("password")}
	}

	nodes := make([]pool.NodeDescriptor, 0)
	for _, url := range viper.GetStringSlice("nodes") {
		nodes = append(nodes, pool.NodeDescriptor{URL: url})
	}

	maxRetries := viper.GetInt("max-retries")
	cfg := estransport.Config{
		Nodes:          nodes,
		CloudID:        viper.GetString("cloud-id"),
		Auth:           auth,
		MaxRetries:     &maxRetries,
		RequestTimeout: viper.GetDuration("request-timeout"),
		SniffOnStart:   viper.GetBool("sniff-on-start"),
		SniffInterval:  viper.GetDuration("sniff-interval"),
	}

	opts := []estransport.Option{estransport.WithLogger(logging.Sink(logger))}
	if viper.GetBool("trace") {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("constructing trace exporter: %w", err)
		}
		provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(ctx)
		}()
		opts = append(opts, estransport.WithTracer(provider.Tracer("estransport-example")))
	}

	t, err := estransport.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("constructing transport: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.Close(ctx)
	}()

	resp, err := t.Perform(context.Background(), estransport.RequestParams{
		Method: viper.GetString("method"),
		Path:   viper.GetString("path"),
	})
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}

	fmt.Printf("status=%d request_id=%s attempts=%d body=%v\n",
		resp.StatusCode, resp.Meta.RequestID, resp.Meta.Attempts, resp.Body)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
