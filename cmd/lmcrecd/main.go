// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command lmcrecd is the composition root: it loads configuration, wires up
// the optional backing services (remote storage sync, inventory persistence,
// scan notification), starts the scheduled inventory refresh, and serves the
// query HTTP surface until asked to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/gops/agent"

	"github.com/ClusterCockpit/lmcrec/pkg/httpapi"
	"github.com/ClusterCockpit/lmcrec/pkg/invstore"
	"github.com/ClusterCockpit/lmcrec/pkg/lmcconf"
	"github.com/ClusterCockpit/lmcrec/pkg/lmcrec"
	"github.com/ClusterCockpit/lmcrec/pkg/log"
	"github.com/ClusterCockpit/lmcrec/pkg/notify"
	"github.com/ClusterCockpit/lmcrec/pkg/storage"
)

// sidecarCacheMaxMemory bounds each of SidecarCache's two internal caches.
const sidecarCacheMaxMemory = 16 * 1024 * 1024

func main() {
	var flagGops bool
	var flagConfigFile string
	var flagNoServer bool
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the global config options by those specified in `config.json`")
	flag.BoolVar(&flagNoServer, "no-server", false, "Run the startup sequence (config, remote sync, inventory refresh) and exit without serving HTTP")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := lmcconf.Load(flagConfigFile); err != nil {
		log.Fatalf("loading configuration failed: %s", err.Error())
	}

	if lmcconf.Keys.Remote.S3Bucket != "" {
		if err := syncRemote(context.Background()); err != nil {
			log.Fatalf("initial remote sync failed: %s", err.Error())
		}
	}

	sidecarCache := lmcrec.NewSidecarCache(sidecarCacheMaxMemory)
	httpapi.SidecarCacheStats = sidecarCache.Stats

	var store *invstore.Store
	if lmcconf.Keys.IndexCache.Backend == "sqlite" {
		var err error
		store, err = invstore.Open(lmcconf.Keys.IndexCache.SQLitePath)
		if err != nil {
			log.Fatalf("opening inventory store failed: %s", err.Error())
		}
		defer store.Close()
	}

	var publisher *notify.Publisher
	if lmcconf.Keys.Notify.Address != "" {
		var err error
		publisher, err = notify.Connect(notify.Config{
			Address: lmcconf.Keys.Notify.Address,
			Subject: lmcconf.Keys.Notify.Subject,
		})
		if err != nil {
			log.Fatalf("connecting to NATS failed: %s", err.Error())
		}
		defer publisher.Close()
		httpapi.ScanNotifier = func(ic *lmcrec.IntervalStateCache, newChain bool) {
			if err := publisher.PublishScan(ic, newChain); err != nil {
				log.Component("NOTIFY").Warnf("publishing scan event failed: %v", err)
			}
		}
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatalf("creating scheduler failed: %s", err.Error())
	}

	if lmcconf.Keys.RefreshInterval != "" {
		interval, err := time.ParseDuration(lmcconf.Keys.RefreshInterval)
		if err != nil {
			log.Fatalf("invalid refresh-interval %q: %s", lmcconf.Keys.RefreshInterval, err.Error())
		}
		if interval > 0 {
			if _, err := scheduler.NewJob(gocron.DurationJob(interval),
				gocron.NewTask(func() { refreshInventory(store) })); err != nil {
				log.Fatalf("scheduling inventory refresh failed: %s", err.Error())
			}
			log.Component("LMCRECD").Infof("scheduled inventory refresh every %s", interval)
		}
	}
	scheduler.Start()
	defer scheduler.Shutdown()

	// An initial sweep so a freshly started process doesn't wait a full
	// RefreshInterval before the first snapshot is available.
	refreshInventory(store)

	if flagNoServer {
		return
	}

	handler := httpapi.NewRouter()
	addr := lmcconf.Keys.Http.Addr
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		Handler:      handler,
		Addr:         addr,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("starting http listener failed: %s", err.Error())
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fmt.Printf("lmcrecd listening at %s...\n", addr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serving http failed: %s", err.Error())
		}
	}()

	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs
		server.Shutdown(context.Background())
	}()

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(25)
	}

	wg.Wait()
	log.Print("graceful shutdown completed")
}

// syncRemote mirrors the configured S3 tree into the local RecordRoot before
// the planner ever sees it (§12.1); pkg/lmcrec never talks to storage.FileBackend directly.
func syncRemote(ctx context.Context) error {
	backend, err := storage.NewS3Backend(ctx, storage.S3BackendConfig{
		Bucket: lmcconf.Keys.Remote.S3Bucket,
		Prefix: lmcconf.Keys.Remote.S3Prefix,
		Region: lmcconf.Keys.Remote.S3Region,
	})
	if err != nil {
		return fmt.Errorf("constructing S3 backend: %w", err)
	}

	n, err := storage.SyncTree(backend, "", lmcconf.Keys.RecordRoot)
	if err != nil {
		return fmt.Errorf("syncing remote tree: %w", err)
	}
	log.Component("LMCRECD").Infof("synced %d files from s3://%s/%s", n, lmcconf.Keys.Remote.S3Bucket, lmcconf.Keys.Remote.S3Prefix)
	return nil
}

// refreshInventory sweeps lmcconf.Keys.RecordRoot and, if store is non-nil,
// persists the result (§12.3, §12.4). Errors are logged, not fatal: a failed
// sweep should not bring the whole process down while it keeps serving
// queries against the data already on disk.
func refreshInventory(store *invstore.Store) {
	taglog := log.Component("LMCRECD")

	chains, err := lmcrec.BuildFileChains(lmcconf.Keys.RecordRoot, nil, nil)
	if err != nil {
		taglog.Warnf("inventory refresh: planning chains under %s: %v", lmcconf.Keys.RecordRoot, err)
		return
	}
	if len(chains) == 0 {
		return
	}

	files := lmcrec.ChainToFileList(chains)
	result, instMaxSize, err := lmcrec.GetInventoryFromFiles(files, nil, nil)
	if err != nil {
		taglog.Warnf("inventory refresh: sweeping %s: %v", lmcconf.Keys.RecordRoot, err)
		return
	}

	taglog.Infof("inventory refresh: swept %d files under %s", len(files), lmcconf.Keys.RecordRoot)

	if store == nil {
		return
	}
	snap := invstore.Snapshot{
		InstTree:     result.InstTree,
		ClassVarInfo: result.ClassVarInfo,
		InstMaxSize:  instMaxSize,
		FirstTs:      result.FirstTs,
		LastTs:       result.LastTs,
	}
	if err := store.Save(lmcconf.Keys.RecordRoot, snap); err != nil {
		taglog.Warnf("inventory refresh: saving snapshot: %v", err)
	}
}
