package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/feedwatch/feedwatch/internal/app"
	"github.com/feedwatch/feedwatch/internal/client"
	"github.com/feedwatch/feedwatch/internal/config"
	"github.com/feedwatch/feedwatch/internal/feed"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

var (
	configPath = flag.String("config", "feedwatch.yaml", "Path to config file")
	address    = flag.String("address", "", "Feed address (default $"+config.AddressEnv+")")
	feedURL    = flag.String("url", "", "Feed base URL (default "+feed.DefaultBaseURL+")")
	token      = flag.String("token", "", "Auth token (if the origin requires it)")
	publish    = flag.String("publish", "", "Publish this HTML to the feed and exit")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		glog.Errorf("feedwatch: %v", err)
		glog.Flush()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	glog.Flush()
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return errors.Trace(err)
	}
	if *feedURL != "" {
		cfg.Client.FeedURL = *feedURL
	}
	if *token != "" {
		cfg.Client.Token = *token
	}

	addr := cfg.Client.ResolveAddress(*address)
	if addr == "" {
		return errors.NotValidf("no feed address: pass -address or set %s", config.AddressEnv)
	}

	opts := cfg.Client.FeedOptions()
	if _, err := opts.Target(addr); err != nil {
		return errors.Trace(err)
	}

	httpBase := cfg.Client.HealthURL
	if httpBase == "" {
		base := cfg.Client.FeedURL
		if base == "" {
			base = feed.DefaultBaseURL
		}
		httpBase = client.DeriveHTTPBase(base)
	}
	httpClient := client.NewHTTPClient(httpBase, cfg.Client.Token)

	if *publish != "" {
		return errors.Annotatef(httpClient.PublishPost(addr, *publish), "publishing to %q", addr)
	}

	glog.Infof("feedwatch: subscribing to %q", addr)
	m := app.New(app.Options{
		Address: addr,
		Feed:    opts,
		Policy:  cfg.Client.Policy(),
		HTTP:    httpClient,
	})
	p := tea.NewProgram(m, tea.WithAltScreen())

	_, err = p.Run()
	return errors.Trace(err)
}
