// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/syncstore"
	"github.com/AleutianAI/syncstore/fetch"
	"github.com/AleutianAI/syncstore/httpapi"
	"github.com/AleutianAI/syncstore/httpclient"
	"github.com/AleutianAI/syncstore/identity"
	"github.com/AleutianAI/syncstore/logging"
	"github.com/AleutianAI/syncstore/restpolicy"
	"github.com/AleutianAI/syncstore/wire"
)

var (
	configPath string
	modelPath  string
	baseURL    string
	queryParam []string
	reconcile  bool
	listenAddr string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "syncstore",
		Short: "Incremental store: cache remote resources locally and fault them on demand",
	}

	fetchCmd = &cobra.Command{
		Use:   "fetch [entity]",
		Short: "Execute a collection query against the remote service and merge the results",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetch,
	}

	getCmd = &cobra.Command{
		Use:   "get [entity] [local-id]",
		Short: "Resolve a record's attributes, fetching from the remote service if needed",
		Args:  cobra.ExactArgs(2),
		RunE:  runGet,
	}

	lsCmd = &cobra.Command{
		Use:   "ls [entity]",
		Short: "List locally cached records of an entity without network access",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the store's inspection API over HTTP",
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "syncstore.yaml", "Path to the store configuration file")
	rootCmd.PersistentFlags().StringVarP(&modelPath, "model", "m", "model.yaml", "Path to the schema model file")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Remote service base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	fetchCmd.Flags().StringArrayVarP(&queryParam, "param", "p", nil, "Query parameter as key=value (repeatable)")
	fetchCmd.Flags().BoolVar(&reconcile, "reconcile", false, "Remove cached records the response no longer contains")

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", ":8765", "Address to serve the inspection API on")

	rootCmd.AddCommand(fetchCmd, getCmd, lsCmd, serveCmd)
}

func newLogger(cfg *syncstore.Config) (*slog.Logger, error) {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	sink, err := logging.New(logging.Config{
		Level:   level,
		Dir:     cfg.LogDir,
		Service: "syncstore",
	})
	if err != nil {
		return nil, err
	}
	return sink.Logger(), nil
}

func openStore() (*syncstore.Store, error) {
	cfg, err := syncstore.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("no remote base URL: set base_url in %s or pass --base-url", configPath)
	}

	model, err := loadModel(modelPath)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	clientOpts := []httpclient.Option{httpclient.WithLogger(logger)}
	if cfg.RateLimit > 0 {
		clientOpts = append(clientOpts, httpclient.WithRateLimit(cfg.RateLimit, cfg.Burst))
	}
	transport, err := httpclient.New(cfg.BaseURL, clientOpts...)
	if err != nil {
		return nil, err
	}

	ids := identity.NewMap()
	rest := restpolicy.New(ids)
	return syncstore.Open(syncstore.TypeBadger, syncstore.Options{
		Config:    *cfg,
		Model:     model,
		Policy:    rest,
		Builder:   rest,
		Transport: transport,
		Identity:  ids,
		Logger:    logger,
	})
}

func runFetch(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	q := &wire.Query{Entity: args[0]}
	for _, p := range queryParam {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return fmt.Errorf("malformed --param %q, want key=value", p)
		}
		if q.Params == nil {
			q.Params = url.Values{}
		}
		q.Params.Add(k, v)
	}

	var opts []fetch.Option
	if reconcile {
		opts = append(opts, fetch.WithReconcile())
	}

	handles, err := store.Fetch(cmd.Context(), q, opts...)
	if err != nil {
		return err
	}
	for _, h := range handles {
		fmt.Println(h)
	}
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	h := identity.Handle{Entity: args[0], Local: args[1]}
	attrs, err := store.ResolveAttributeFault(cmd.Context(), h)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(attrs)
}

func runList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.Query(cmd.Context(), args[0], nil)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(recs)
}

func runServe(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	logger := slog.Default()
	logger.Info("serving inspection API", slog.String("addr", listenAddr))
	srv := &http.Server{
		Addr:    listenAddr,
		Handler: httpapi.NewServer(store, logger).Router(),
	}
	return srv.ListenAndServe()
}
