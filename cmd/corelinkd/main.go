// Package main is the corelinkd daemon entrypoint: it wires configuration,
// observability, the FileTransferManager, and the QUIC transport adapter
// together, then serves peers until told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/corelink/node/internal/config"
	"github.com/corelink/node/internal/obslog"
	"github.com/corelink/node/internal/obsmetrics"
	"github.com/corelink/node/internal/peer"
	"github.com/corelink/node/internal/quictransport"
	"github.com/corelink/node/internal/transfer"
	"github.com/corelink/node/internal/validation"
)

func main() {
	listenAddr := flag.String("listen-addr", ":4433", "QUIC listener address")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9090", "Prometheus scrape address")
	storageRoot := flag.String("storage-root", "storage", "root directory for uploads, downloads, and completed files")
	peerID := flag.String("peer-id", "", "this node's peer id (random if empty)")
	flag.Parse()

	if err := validation.ValidateAddr(*listenAddr); err != nil {
		fmt.Fprintln(os.Stderr, "invalid -listen-addr:", err)
		os.Exit(1)
	}
	if err := validation.ValidateAddr(*metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "invalid -metrics-addr:", err)
		os.Exit(1)
	}

	localID := *peerID
	if localID == "" {
		localID = uuid.NewString()
	}

	logger := obslog.New("corelinkd", os.Stdout)
	metrics := obsmetrics.New()

	cfg := config.DefaultConfig()
	cfg.StorageRoot = *storageRoot

	mgr, err := transfer.New(cfg, logger, metrics)
	if err != nil {
		logger.Error(err, "failed to construct the transfer manager")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mgr.Run(ctx)
	go serveMetrics(*metricsAddr, metrics, logger)

	listener, err := quictransport.Listen(*listenAddr, localID)
	if err != nil {
		logger.Error(err, "failed to start the QUIC listener")
		os.Exit(1)
	}
	defer listener.Close()

	logger.Info(fmt.Sprintf("corelinkd listening on %s as %s", listener.Addr(), localID))

	go acceptLoop(ctx, listener, mgr, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
}

func acceptLoop(ctx context.Context, listener *quictransport.Listener, mgr *transfer.Manager, logger *obslog.Logger) {
	for {
		stream, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error(err, "failed to accept a peer connection")
			continue
		}

		peerLogger := logger.WithPeer(stream.RemotePeerID())
		h := peer.New(stream, mgr.Events(), peerLogger)
		go h.Run(ctx)
	}
}

func serveMetrics(addr string, metrics *obsmetrics.Metrics, logger *obslog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.Info("metrics server listening on " + addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "metrics server error")
	}
}
