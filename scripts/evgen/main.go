package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"SiteSpectra/internal/config"
	"SiteSpectra/internal/ingest"
	"SiteSpectra/internal/probe"

	"golang.org/x/time/rate"
)

var paths = []string{"/", "/pricing", "/docs", "/docs/quickstart", "/blog", "/about", "/careers"}

var agents = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/119.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
}

func main() {
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS server URL")
	subject := flag.String("subject", "sitespectra.events", "NATS subject to publish to")
	site := flag.String("site", "demo", "site id to generate events for")
	count := flag.Int("c", 10000, "number of events to generate")
	perSecond := flag.Int("rate", 200, "events per second")
	visitors := flag.Int("visitors", 2000, "size of the synthetic visitor pool")
	flag.Parse()

	pub, err := probe.NewPublisher(config.NATSConfig{URL: *natsURL, Subject: *subject})
	if err != nil {
		log.Fatalf("Failed to connect publisher: %v", err)
	}
	defer pub.Close()

	limiter := rate.NewLimiter(rate.Limit(*perSecond), *perSecond)
	log.Printf("Publishing %d events for site %q at %d/s...", *count, *site, *perSecond)

	for i := 0; i < *count; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			break
		}
		v := rand.Intn(*visitors)
		path := paths[rand.Intn(len(paths))]
		req := &ingest.Request{
			Site:      *site,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Path:      path,
			URL:       "https://" + *site + ".example" + path,
			AnonID:    fmt.Sprintf("anon-%d", v),
			SessionID: fmt.Sprintf("sess-%d-%d", v, time.Now().Unix()/1800),
			UserAgent: agents[rand.Intn(len(agents))],
		}
		if err := pub.Publish(req); err != nil {
			log.Fatalf("Failed to publish event %d: %v", i, err)
		}
		if (i+1)%10000 == 0 {
			log.Printf("Published %d events...", i+1)
		}
	}
	log.Println("Done.")
}
