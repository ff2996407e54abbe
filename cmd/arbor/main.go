// Copyright (c) 2025 Arbor Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Command arbor runs the worktree orchestration daemon: it manages git
// worktrees and their dev servers and serves the HTTP/SSE API.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"arbor/internal/config"
	"arbor/internal/hooks"
	"arbor/internal/manager"
	"arbor/internal/notes"
	"arbor/internal/server"
	"arbor/internal/worktree"
)

func main() {
	repoFlag := flag.String("repo", "", "repository root (default: detected from the working directory)")
	addrFlag := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	repoRoot := *repoFlag
	if repoRoot == "" {
		detected, err := worktree.DetectRepoRoot()
		if err != nil {
			log.Fatalf("no repository: %v (use -repo to point at one)", err)
		}
		repoRoot = detected
	}

	cfg, err := config.Load(repoRoot)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}
	entry := logrus.NewEntry(log)

	mgr := manager.New(cfg, entry)
	links := notes.NewFileStore(filepath.Join(cfg.DataDir, "notes"))
	store := hooks.NewStore(filepath.Join(cfg.DataDir, "hooks"))
	pipe := hooks.NewPipeline(store, links, mgr.Path, entry)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(mgr, pipe, entry).Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		entry.WithFields(logrus.Fields{
			"addr": cfg.Server.Addr,
			"repo": cfg.Repo.Root,
		}).Info("arbor listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	entry.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		entry.Warnf("http shutdown: %v", err)
	}
	mgr.StopAll()
}
