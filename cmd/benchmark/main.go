package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	created201    uint64 // Offers created
	rejected422   uint64 // Validation rejections (floor, capacity)
	limited429    uint64 // Rate-limited (pending-offer cap)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		listingID, buyerID := pickTarget()

		payload := map[string]interface{}{
			"listing_id":    listingID,
			"cash_cents":    int64(rand.Intn(20)+1) * 1000,
			"currency_code": "USD",
			"message":       "benchmark offer",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/offers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", buyerID)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&created201, 1)
		case 422:
			atomic.AddUint64(&rejected422, 1)
		case 429:
			atomic.AddUint64(&limited429, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickTarget() (string, string) {
	// Assumes the seeder ran: 1000 listings owned by 100 sellers.
	totalListings := 1000
	totalBuyers := 500

	listingIdx := rand.Intn(totalListings) + 1
	if workload == "hotspot" {
		// Hotspot: 90% of traffic hammers two listings to stress the
		// pending-offer cap and the capacity guard.
		if rand.Float32() < 0.90 {
			listingIdx = rand.Intn(2) + 1
		}
	}

	return fmt.Sprintf("listing-%04d", listingIdx), fmt.Sprintf("buyer-%03d", rand.Intn(totalBuyers)+1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	c201 := atomic.LoadUint64(&created201)
	r422 := atomic.LoadUint64(&rejected422)
	l429 := atomic.LoadUint64(&limited429)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	rejectRate := float64(r422+l429) / float64(total) * 100

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"offers_created":  c201,
		"rejected":        r422,
		"rate_limited":    l429,
		"reject_rate_pct": rejectRate,
		"errors":          fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
