// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	httpcore "github.com/packetd/httpcore"
	"github.com/packetd/httpcore/confengine"
	"github.com/packetd/httpcore/internal/obslog"
)

type requestCmdConfig struct {
	Method   string
	Header   []string
	Body     string
	Version  string
	Compress bool
	Timeout  time.Duration
	Insecure bool
}

var reqConfig requestCmdConfig

var requestCmd = &cobra.Command{
	Use:   "request [url]",
	Short: "Issue one request and print its status, headers and body as they stream in",
	Args:  cobra.ExactArgs(1),
	Example: `  httpcoreclient request https://example.com/api --method GET --header 'Accept: application/json'`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := confengine.DefaultHTTPConfig()
		if configPath != "" {
			loaded, err := confengine.LoadHTTPConfig(configPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
				os.Exit(1)
			}
			cfg = loaded
		}

		tlsConfig := &tls.Config{InsecureSkipVerify: reqConfig.Insecure} //nolint:gosec // user opted in via --insecure

		dispatcher := httpcore.NewDispatcherFromConfig(cfg, tlsConfig)

		req := httpcore.NewRequest(httpcore.Method(reqConfig.Method), args[0])
		if req.BuildError != nil {
			fmt.Fprintf(os.Stderr, "invalid request: %v\n", req.BuildError)
			os.Exit(1)
		}
		for _, h := range reqConfig.Header {
			name, value, ok := splitHeaderFlag(h)
			if !ok {
				fmt.Fprintf(os.Stderr, "ignoring malformed --header %q (want 'Name: value')\n", h)
				continue
			}
			req = req.WithHeader(name, value)
		}
		if reqConfig.Body != "" {
			req = req.WithBody(httpcore.Body{Kind: httpcore.BodyText, Text: reqConfig.Body})
		}
		req = req.WithTimeout(reqConfig.Timeout)
		req.Compress = reqConfig.Compress
		if v, ok := parseVersion(reqConfig.Version); ok {
			req = req.WithPreferVersion(v)
		}

		ctx, cancel := context.WithTimeout(context.Background(), reqConfig.Timeout+5*time.Second)
		defer cancel()

		resp, err := dispatcher.Dispatch(ctx, req)
		if err != nil {
			obslog.Errorf("request failed: %v", err)
			fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("HTTP %d (%s)\n", resp.Status(), resp.Version())
		for h := range resp.HeadersStream() {
			fmt.Printf("%s: %s\n", h.Name, h.Value)
		}
		fmt.Println()
		for chunk := range resp.BodyStream() {
			if chunk.Err != nil {
				fmt.Fprintf(os.Stderr, "body stream error: %v\n", chunk.Err)
				os.Exit(1)
			}
			os.Stdout.Write(chunk.Data)
		}
		for range resp.TrailersStream() {
			// drain and discard any trailers so the channel is fully consumed
		}
	},
}

func splitHeaderFlag(s string) (name, value string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			name = s[:i]
			value = s[i+1:]
			for len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
			return name, value, true
		}
	}
	return "", "", false
}

func parseVersion(s string) (httpcore.Version, bool) {
	switch s {
	case "h3":
		return httpcore.VersionH3, true
	case "h2":
		return httpcore.VersionH2, true
	case "h1":
		return httpcore.VersionH1, true
	default:
		return httpcore.VersionAuto, false
	}
}

func init() {
	requestCmd.Flags().StringVar(&reqConfig.Method, "method", "GET", "HTTP method")
	requestCmd.Flags().StringSliceVar(&reqConfig.Header, "header", nil, "Request header in 'Name: value' format, repeatable")
	requestCmd.Flags().StringVar(&reqConfig.Body, "body", "", "Request body as raw text")
	requestCmd.Flags().StringVar(&reqConfig.Version, "prefer-version", "", "Preferred protocol version: h3, h2 or h1 (default: let the protocol cache decide)")
	requestCmd.Flags().BoolVar(&reqConfig.Compress, "compress", true, "Set the request's Compress flag (the dispatcher sends request bodies uncompressed)")
	requestCmd.Flags().DurationVar(&reqConfig.Timeout, "timeout", 30*time.Second, "Total request budget")
	requestCmd.Flags().BoolVar(&reqConfig.Insecure, "insecure", false, "Skip TLS certificate verification")
	rootCmd.AddCommand(requestCmd)
}
