package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL    string
	concurrency  int
	duration     time.Duration
	workload     string
	token        string
	accountsFile string
	amount       string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	fail409       uint64 // Conflicts and invalid states
	fail422       uint64 // Insufficient funds
	fail503       uint64 // Lock wait exceeded (BUSY)
	failOther     uint64

	latencyMu sync.Mutex
	latencies []time.Duration
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&token, "token", os.Getenv("LEDGER_TOKEN"), "Bearer token printed by the seeder")
	flag.StringVar(&accountsFile, "accounts", "accounts.txt", "Account ids written by the seeder")
	flag.StringVar(&amount, "amount", "1.00", "Amount moved per transfer")
}

func main() {
	flag.Parse()
	if token == "" {
		log.Fatal("a bearer token is required (-token or LEDGER_TOKEN)")
	}
	accounts, err := readAccounts(accountsFile)
	if err != nil {
		log.Fatalf("read accounts: %v", err)
	}
	if len(accounts) < 2 {
		log.Fatalf("need at least 2 accounts, found %d", len(accounts))
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Accounts: %d",
		workload, concurrency, duration, len(accounts))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, accounts)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func readAccounts(path string) ([]uuid.UUID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ids []uuid.UUID
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		id, err := uuid.Parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %q: %w", line, err)
		}
		ids = append(ids, id)
	}
	return ids, sc.Err()
}

func worker(wg *sync.WaitGroup, start time.Time, accounts []uuid.UUID) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	var local []time.Duration
	defer func() {
		latencyMu.Lock()
		latencies = append(latencies, local...)
		latencyMu.Unlock()
	}()

	for time.Since(start) < duration {
		from, to := generateAccounts(accounts)

		// Unique key per request: this measures throughput, not replays.
		key := fmt.Sprintf("bench-%s-%s-%d", from, to, time.Now().UnixNano())

		payload := map[string]interface{}{
			"from_account_id": from,
			"to_account_id":   to,
			"amount":          amount,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", key)

		sent := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		local = append(local, time.Since(sent))
		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 201:
			atomic.AddUint64(&success201, 1)
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&fail409, 1)
		case 422:
			atomic.AddUint64(&fail422, 1)
		case 503:
			atomic.AddUint64(&fail503, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func generateAccounts(accounts []uuid.UUID) (uuid.UUID, uuid.UUID) {
	n := len(accounts)

	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes between the first two accounts
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return accounts[0], accounts[1]
			}
			return accounts[1], accounts[0]
		}
	}

	// Uniform Random
	a := rand.Intn(n)
	b := rand.Intn(n)
	for a == b {
		b = rand.Intn(n)
	}
	return accounts[a], accounts[b]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	f503 := atomic.LoadUint64(&fail503)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var busyRate float64
	if total > 0 {
		busyRate = float64(f503) / float64(total) * 100
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"success_created":   s201,
		"success_replay":    s200,
		"rejected_conflict": f409,
		"rejected_funds":    f422,
		"aborts_busy":       f503,
		"busy_rate_pct":     busyRate,
		"errors":            fErr,
		"latency_p50_ms":    percentile(latencies, 0.50),
		"latency_p95_ms":    percentile(latencies, 0.95),
		"latency_p99_ms":    percentile(latencies, 0.99),
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}

// percentile expects sorted input and reports milliseconds.
func percentile(sorted []time.Duration, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(q * float64(len(sorted)-1))
	return float64(sorted[i].Microseconds()) / 1000
}
