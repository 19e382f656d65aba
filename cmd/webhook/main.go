package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"k8s.io/client-go/rest"
	"knative.dev/pkg/signals"

	"github.com/sse-secure-systems/connaisseur/pkg/admission"
	"github.com/sse-secure-systems/connaisseur/pkg/config"
	"github.com/sse-secure-systems/connaisseur/pkg/logging"
	"github.com/sse-secure-systems/connaisseur/pkg/validator"
	"github.com/sse-secure-systems/connaisseur/pkg/workload"
)

// The webhook name /ready looks for in the admissionregistration API
// is not a flag: it comes from CONNAISSEUR_WEBHOOK (see pkg/config.Env).
var (
	configPath  = flag.String("config", "/app/connaisseur-config/config.yaml", "Path to the validator configuration file.")
	secretsPath = flag.String("secrets", "/app/connaisseur-config/config-secrets.yaml", "Path to the validator secrets file, merged into -config by validator name.")
	policyPath  = flag.String("policy", "/app/connaisseur-config/policy.yaml", "Path to the image policy file.")
	certFile    = flag.String("tls-cert", "/app/certs/tls.crt", "Path to the webhook's TLS certificate.")
	keyFile     = flag.String("tls-key", "/app/certs/tls.key", "Path to the webhook's TLS private key.")
	port        = flag.Int("secure-port", 8443, "The port on which to serve HTTPS.")
)

func main() {
	flag.Parse()
	env := config.LoadEnv()

	logger, err := logging.NewProduction(env.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	specs, err := config.LoadValidators(*configPath, *secretsPath)
	if err != nil {
		logger.Fatalw("failed to load validator configuration", "err", err)
	}

	registry, err := validator.NewRegistry(specs, config.NewHTTPClient())
	if err != nil {
		logger.Fatalw("failed to build validator registry", "err", err)
	}

	pol, err := config.LoadPolicy(*policyPath)
	if err != nil {
		logger.Fatalw("failed to load image policy", "err", err)
	}

	handler := &admission.Handler{
		Registry:      registry,
		Policy:        pol,
		DetectionMode: env.DetectionMode,
	}
	var parentFetcher *workload.ParentFetcher
	if restCfg, err := rest.InClusterConfig(); err == nil {
		pf, err := workload.NewParentFetcher(restCfg)
		if err != nil {
			logger.Fatalw("failed to build kubernetes client", "err", err)
		}
		handler.ParentFetcher = pf
		parentFetcher = pf
	} else {
		logger.Warnw("not running in-cluster; owner-reference resolution and installation readiness checks disabled", "err", err)
	}

	server := &admission.Server{Handler: handler}
	for _, name := range specNames(specs) {
		v, err := registry.Get(name)
		if err != nil {
			continue
		}
		server.ReadyCheckers = append(server.ReadyCheckers, v.Healthy)
	}
	// /ready must also confirm the webhook is actually installed (or a
	// bootstrap sentinel Pod is still running on its behalf), mirroring
	// flask_server.py's readyz combining sentinel_running/webhook_response
	// with notary health.
	if parentFetcher != nil {
		server.ReadyCheckers = append(server.ReadyCheckers, func(ctx context.Context) bool {
			return parentFetcher.WebhookRegistered(ctx, env.Webhook) || parentFetcher.SentinelRunning(ctx, env.Namespace, env.Sentinel)
		})
	}

	ctx := signals.NewContext()
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           server.Mux(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("error during graceful shutdown", "err", err)
		}
	}()

	logger.Infow("starting admission webhook", "port", *port, "detection_mode", env.DetectionMode)
	if err := httpServer.ListenAndServeTLS(*certFile, *keyFile); err != nil && err != http.ErrServerClosed {
		logger.Fatalw("webhook server exited", "err", err)
	}
}

func specNames(specs []validator.Spec) []string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}
