// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

// comicfs-add registers comic content with a running comicfs-daemon.
//
// Two forms:
//
//	comicfs-add <comic> <episode> <url>...
//	comicfs-add --file batch.json
//
// The batch file is a JSON document mapping comic names to episode
// names to ordered page URL lists, the same shape the gateway's /add
// endpoint accepts. "--file -" reads the document from stdin.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/comicfs-dev/comicfs/lib/gateway"
	"github.com/comicfs-dev/comicfs/lib/process"
	"github.com/comicfs-dev/comicfs/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var gatewayURL string
	var batchFile string
	var showVersion bool

	flagSet := pflag.NewFlagSet("comicfs-add", pflag.ContinueOnError)
	flagSet.StringVar(&gatewayURL, "gateway", "http://127.0.0.1:8080", "base URL of the comicfs gateway")
	flagSet.StringVar(&batchFile, "file", "", "JSON batch file to register (\"-\" for stdin)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		version.Print("comicfs-add")
		return nil
	}

	request, err := buildRequest(batchFile, flagSet.Args())
	if err != nil {
		return err
	}

	client, err := gateway.NewClient(gatewayURL, nil)
	if err != nil {
		return err
	}
	added, err := client.Add(context.Background(), request)
	if err != nil {
		return err
	}

	submitted := 0
	for _, episodes := range request {
		for _, pages := range episodes {
			submitted += len(pages)
		}
	}
	fmt.Printf("registered %d new file(s) from %d URL(s)\n", added, submitted)
	return nil
}

func buildRequest(batchFile string, args []string) (gateway.AddRequest, error) {
	if batchFile != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--file and positional arguments are mutually exclusive")
		}
		return readBatch(batchFile)
	}

	if len(args) < 3 {
		return nil, fmt.Errorf("usage: comicfs-add <comic> <episode> <url>... (or --file batch.json)")
	}
	comic, episode, urls := args[0], args[1], args[2:]
	return gateway.AddRequest{comic: {episode: urls}}, nil
}

func readBatch(path string) (gateway.AddRequest, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading batch: %w", err)
	}

	var request gateway.AddRequest
	if err := json.Unmarshal(data, &request); err != nil {
		return nil, fmt.Errorf("parsing batch: %w", err)
	}
	return request, nil
}
