package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	getAndPrint(*baseURL, "/v1/state")
}

func metricsCmd(args []string) {
	fs := flag.NewFlagSet("metrics", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	prefix := fs.String("prefix", "", "only print metric lines with this prefix")
	_ = fs.Parse(args)

	b, ok := get(*baseURL, "/metrics")
	for _, line := range strings.Split(string(b), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if *prefix != "" && !strings.HasPrefix(line, *prefix) {
			continue
		}
		fmt.Println(line)
	}
	if !ok {
		os.Exit(1)
	}
}

func getAndPrint(baseURL, path string) {
	b, ok := get(baseURL, path)
	fmt.Println(string(b))
	if !ok {
		os.Exit(1)
	}
}

func get(baseURL, path string) ([]byte, bool) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return b, resp.StatusCode/100 == 2
}
