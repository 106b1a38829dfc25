package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/feedwatch/feedwatch/internal/config"
	"github.com/feedwatch/feedwatch/internal/feedserver"
	"github.com/golang/glog"
)

func main() {
	mockMode := flag.Bool("mock", false, "Publish generated posts to every configured feed")
	configPath := flag.String("config", "feedwatch.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Set("logtostderr", "true")
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load(*configPath)
	if err != nil {
		glog.Exitf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	sc := cfg.Server
	hub := feedserver.NewHub(sc.SendBuffer, sc.MaxConnections, sc.MaxPostBytes)
	server := feedserver.NewServer(sc, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *mockMode {
		glog.Infof("Starting in mock mode (every %s)", sc.Mock.Interval)
		gen := feedserver.NewMockGenerator(hub, sc.Feeds, sc.Mock.Interval)
		go gen.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		glog.Info("Shutting down...")
		cancel()
		hub.Close()
		glog.Flush()
		os.Exit(0)
	}()

	if err := feedserver.ListenAndServe(sc.Host, sc.Port, server.Handler()); err != nil {
		glog.Exitf("Server error: %v", err)
	}
}
