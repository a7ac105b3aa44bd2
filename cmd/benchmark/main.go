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

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
	owners      int
)

var (
	totalRequests uint64
	success200    uint64
	busy409       uint64 // account lock wait timed out
	reject422     uint64 // business rule, mostly insufficient balance
	failOther     uint64
)

type account struct {
	userID int64
	number string
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&accounts, "accounts", 20, "Accounts to open before the run")
	flag.IntVar(&owners, "owners", 3, "Seeded owners to spread accounts over")
}

func main() {
	flag.Parse()
	client := &http.Client{Timeout: 5 * time.Second}

	targets, err := openAccounts(client)
	if err != nil {
		log.Fatalf("setup failed: %v", err)
	}
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Accounts: %d", workload, concurrency, duration, len(targets))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, client, start, targets)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// openAccounts opens the benchmark accounts round-robin over the owners.
func openAccounts(client *http.Client) ([]account, error) {
	var out []account
	for i := 0; i < accounts; i++ {
		userID := int64(i%owners + 1)
		body, _ := json.Marshal(map[string]any{"user_id": userID, "initial_balance": 1_000_000_000})

		resp, err := client.Post(targetURL+"/api/v1/accounts", "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		var created struct {
			AccountNumber string `json:"account_number"`
			Error         string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&created)
		resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			return nil, fmt.Errorf("open account for user %d: %d %s", userID, resp.StatusCode, created.Error)
		}
		out = append(out, account{userID: userID, number: created.AccountNumber})
	}
	return out, nil
}

func worker(wg *sync.WaitGroup, client *http.Client, start time.Time, targets []account) {
	defer wg.Done()

	for time.Since(start) < duration {
		target := pickAccount(targets)

		payload := map[string]any{
			"user_id":        target.userID,
			"account_number": target.number,
			"amount":         100,
		}
		body, _ := json.Marshal(payload)

		resp, err := client.Post(targetURL+"/api/v1/transactions/use", "application/json", bytes.NewReader(body))
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&success200, 1)
		case 409:
			atomic.AddUint64(&busy409, 1)
		case 422:
			atomic.AddUint64(&reject422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickAccount(targets []account) account {
	// Hotspot: 90% of traffic goes to the first account
	if workload == "hotspot" && rand.Float32() < 0.90 {
		return targets[0]
	}
	return targets[rand.Intn(len(targets))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	b409 := atomic.LoadUint64(&busy409)
	r422 := atomic.LoadUint64(&reject422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	busyRate := 0.0
	if total > 0 {
		busyRate = float64(b409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_tps": tps,
		"success":        s200,
		"busy_conflict":  b409,
		"busy_rate_pct":  busyRate,
		"rejected":       r422,
		"errors":         fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
