package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/punchamoorthee/fxledger/internal/logging"
)

// Config holds the benchmark settings
var (
	targetURL    string
	accountsFile string
	concurrency  int
	duration     time.Duration
	workload     string
	amount       string
	replayRatio  float64
	logFormat    string
	logLevel     string
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Idempotent replays
	success201    uint64 // Created
	fail409       uint64 // Busy, lock timeout
	fail422       uint64 // Rejected, e.g. insufficient funds
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&accountsFile, "accounts", "accounts.json", "Account ids written by the seeder")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&amount, "amount", "1.00", "Amount sent per transfer")
	flag.Float64Var(&replayRatio, "replay", 0, "Fraction of requests that resend the previous idempotency key")
	flag.StringVar(&logFormat, "log-format", "logfmt", "Log format: logfmt | json")
	flag.StringVar(&logLevel, "log-level", "info", "Minimum log level")
}

func main() {
	flag.Parse()

	logger, err := logging.New(os.Stderr, logFormat, logLevel)
	if err != nil {
		level.Error(log.NewLogfmtLogger(os.Stderr)).Log("msg", "init logger", "err", err)
		os.Exit(1)
	}

	accounts, err := loadAccounts(accountsFile)
	if err != nil {
		level.Error(logger).Log("msg", "unable to load accounts", "file", accountsFile, "err", err)
		os.Exit(1)
	}
	level.Info(logger).Log("msg", "starting benchmark", "workload", workload, "workers", concurrency, "duration", duration, "accounts", len(accounts))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, accounts, int64(i))
	}

	wg.Wait()
	printResults(logger, time.Since(start))
}

// loadAccounts flattens the seeder's per-currency id lists.
func loadAccounts(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var byCurrency map[string][]string
	if err := json.Unmarshal(raw, &byCurrency); err != nil {
		return nil, err
	}
	var out []string
	for _, ids := range byCurrency {
		out = append(out, ids...)
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("%s: need at least two accounts, got %d", path, len(out))
	}
	return out, nil
}

func worker(wg *sync.WaitGroup, start time.Time, accounts []string, seed int64) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + seed))

	var lastKey string
	var lastBody []byte
	for time.Since(start) < duration {
		key, body := lastKey, lastBody
		if lastKey == "" || rng.Float64() >= replayRatio {
			from, to := generateAccounts(rng, accounts)
			key = fmt.Sprintf("bench-%d-%d", seed, time.Now().UnixNano())
			body, _ = json.Marshal(map[string]interface{}{
				"sender_account_id":   from,
				"receiver_account_id": to,
				"amount":              amount,
			})
		}
		lastKey, lastBody = key, body

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/transfers", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

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
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func generateAccounts(rng *rand.Rand, accounts []string) (string, string) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes between the first two accounts
		if rng.Float32() < 0.90 {
			if rng.Float32() < 0.5 {
				return accounts[0], accounts[1]
			}
			return accounts[1], accounts[0]
		}
	}

	// Uniform Random
	a := rng.Intn(len(accounts))
	b := rng.Intn(len(accounts))
	for a == b {
		b = rng.Intn(len(accounts))
	}
	return accounts[a], accounts[b]
}

func printResults(logger log.Logger, d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var busyRate float64
	if total > 0 {
		busyRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": s201,
		"success_replay":  s200,
		"busy_conflict":   f409,
		"busy_rate_pct":   busyRate,
		"rejected":        f422,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		level.Error(logger).Log("msg", "unable to save results", "file", filename, "err", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
