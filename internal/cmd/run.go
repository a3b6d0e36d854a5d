// Package cmd wires the application together for the CLI entry points: the
// long-running gateway service and the interactive login flow.
package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zeroai-dev/zeroai/internal/api"
	"github.com/zeroai-dev/zeroai/internal/api/handlers"
	"github.com/zeroai-dev/zeroai/internal/auth"
	"github.com/zeroai-dev/zeroai/internal/config"
	"github.com/zeroai-dev/zeroai/internal/dispatch"
	"github.com/zeroai-dev/zeroai/internal/provider"
	"github.com/zeroai-dev/zeroai/internal/registry"
	"github.com/zeroai-dev/zeroai/internal/settings"
	"github.com/zeroai-dev/zeroai/internal/usage"
)

// StartService runs the gateway until SIGINT or SIGTERM.
func StartService(cfg *settings.Settings, store *config.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpClient := &http.Client{}
	cfg.SetProxy(httpClient)

	engine := auth.NewEngine(httpClient)
	store.SetRefresher(engine.RefreshFunc())

	catalogClient := &http.Client{Timeout: 15 * time.Second}
	cfg.SetProxy(catalogClient)
	catalog := registry.NewCatalog(catalogClient)

	var usageStore *usage.Store
	var recorder dispatch.UsageRecorder
	usagePath := filepath.Join(filepath.Dir(store.Path()), "usage.db")
	if us, err := usage.Open(usagePath); err != nil {
		log.Warnf("usage accounting disabled: %v", err)
	} else {
		usageStore = us
		recorder = us
		defer func() {
			_ = usageStore.Close()
		}()
	}

	adapters := provider.NewSet(httpClient)
	dispatcher := dispatch.New(store, catalog, adapters, recorder)
	base := handlers.NewBaseHandler(dispatcher, store, catalog, usageStore)
	server := api.NewServer(cfg, base)

	renewer := auth.NewRenewer(store, engine)
	go renewer.Run(ctx)

	refresh := func() { refreshCatalog(ctx, store, catalog) }
	if err := api.WatchConfig(ctx, store.Path(), refresh); err != nil {
		log.Warnf("config watcher disabled: %v", err)
	}
	go refresh()

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Errorf("shutdown failed: %v", err)
	}
}

// refreshCatalog re-fetches the dynamic model listings for every provider
// that appears in the enabled-model list.
func refreshCatalog(ctx context.Context, store *config.Store, catalog *registry.Catalog) {
	ids, err := store.EnabledModels()
	if err != nil {
		log.Warnf("failed to read enabled models: %v", err)
		return
	}

	providers := make(map[string]bool)
	for _, id := range ids {
		providerID, _, errSplit := dispatch.SplitModelID(id)
		if errSplit != nil {
			continue
		}
		providers[providerID] = true
	}

	for providerID := range providers {
		p := registry.Provider(providerID)
		if p == nil || p.Listing == registry.ListStatic {
			continue
		}
		apiKey := ""
		if sel, errResolve := store.ResolveAccount(ctx, providerID); errResolve == nil {
			apiKey = sel.APIKey
		}
		modelsURL, _ := store.ModelsURL(providerID)
		if _, errFetch := catalog.FetchModelsForProvider(ctx, providerID, apiKey, modelsURL); errFetch != nil {
			log.Debugf("model listing for %s failed: %v", providerID, errFetch)
		}
	}
}

// DoLogin runs the interactive OAuth flow for a provider and stores the
// resulting account.
func DoLogin(cfg *settings.Settings, store *config.Store, providerID string) {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	cfg.SetProxy(httpClient)

	engine := auth.NewEngine(httpClient)
	store.SetRefresher(engine.RefreshFunc())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	accountID, err := engine.Login(ctx, store, providerID, nil)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}
	log.Infof("login successful, account %s stored for %s", accountID, providerID)
}
