package feedserver

import (
	"context"
	"fmt"
	"html"
	"math/rand"
	"time"

	"github.com/golang/glog"
)

// Publisher delivers a post to the subscribers of one address.
type Publisher interface {
	Publish(address, html string) int
}

// DefaultMockFeed is published to when no feeds are configured.
const DefaultMockFeed = "demo"

var mockTemplates = []string{
	"<p>Build <b>#%d</b> passed on <code>%s</code></p>",
	"<p>New comment #%d on <a href=\"#\">%s</a></p>",
	"<h3>Deploy %d</h3><p>%s rolled out to staging</p>",
	"<p>⚠ Alert %d: latency spike on <em>%s</em></p>",
	"<ul><li>item %d</li><li>%s</li></ul>",
}

// MockGenerator publishes a synthetic post to every feed on each tick.
type MockGenerator struct {
	pub      Publisher
	feeds    []string
	interval time.Duration
	rng      *rand.Rand
	seq      int
}

func NewMockGenerator(pub Publisher, feeds []string, interval time.Duration) *MockGenerator {
	if len(feeds) == 0 {
		feeds = []string{DefaultMockFeed}
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &MockGenerator{
		pub:      pub,
		feeds:    feeds,
		interval: interval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run publishes until ctx is done.
func (g *MockGenerator) Run(ctx context.Context) {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}

// Tick publishes one post per feed.
func (g *MockGenerator) Tick() {
	g.seq++
	for _, addr := range g.feeds {
		tmpl := mockTemplates[g.rng.Intn(len(mockTemplates))]
		body := fmt.Sprintf(tmpl, g.seq, html.EscapeString(addr))
		n := g.pub.Publish(addr, body)
		glog.V(2).Infof("mock: post %d to %q reached %d subscribers", g.seq, addr, n)
	}
}
