// Package main probes a running svt-server, for container HEALTHCHECKs.
// It exits 0 when /readyz answers 2xx and 1 otherwise.
//
// Usage: healthcheck [url]
//
// Without a url the address comes from the tracker config, so
// SVT_SERVER_HTTP_ADDR=:8080 healthcheck checks http://localhost:8080/readyz.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/hps-svt/tracker/pkg/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	url := ""
	switch len(args) {
	case 0:
		cfg, err := config.Load(os.Getenv("SVT_CONFIG"))
		if err != nil {
			fmt.Fprintf(stderr, "healthcheck failed: %v\n", err)
			return 1
		}
		url = readyURL(cfg.Server.HTTPAddr)
	case 1:
		url = args[0]
	default:
		fmt.Fprintf(stderr, "usage: healthcheck [url]\n")
		return 1
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(stderr, "healthcheck failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return 0
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	if body.Reason != "" {
		fmt.Fprintf(stderr, "healthcheck failed: status %d: %s\n", resp.StatusCode, body.Reason)
	} else {
		fmt.Fprintf(stderr, "healthcheck failed: status %d\n", resp.StatusCode)
	}
	return 1
}

// readyURL turns a listen address such as ":5000" into a local probe URL.
func readyURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/readyz"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/readyz"
}
