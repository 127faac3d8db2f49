// Benchmark tool for loading a loan portfolio into Collector and measuring
// routing and assignment under concurrency.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/portfolio.csv -url http://localhost:8080
//	go run ./cmd/benchmark -generate 5000 -workers 20 -assign-rounds 3
//
// This tool:
//  1. Reads portfolio rows (customer + loan, optional expected stage) or
//     generates a synthetic portfolio
//  2. Opens a case for each row through POST /api/cases/full
//  3. Fires concurrent POST /api/cases/{id}/assign calls at every case
//  4. Reports routing distribution, expected-stage accuracy, assignment
//     outcomes and latency
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// PortfolioRow is one customer with one delinquent loan.
type PortfolioRow struct {
	Name          string
	Phone         string
	Email         string
	Country       string
	RiskScore     float64
	Principal     float64
	Outstanding   float64
	DaysPastDue   int
	ExpectedStage string
}

type createFullRequest struct {
	Customer customerBody `json:"customer"`
	Loan     loanBody     `json:"loan"`
}

type customerBody struct {
	Name      string  `json:"name"`
	Phone     string  `json:"phone"`
	Email     string  `json:"email"`
	Country   string  `json:"country"`
	RiskScore float64 `json:"riskScore"`
}

type loanBody struct {
	Principal   float64 `json:"principal"`
	Outstanding float64 `json:"outstanding"`
	DueDate     string  `json:"dueDate"`
}

type caseResponse struct {
	ID              string `json:"id"`
	Stage           string `json:"stage"`
	AssignmentGroup string `json:"assignmentGroup"`
	AssignedTo      string `json:"assignedTo"`
	Version         int    `json:"version"`
}

type assignResponse struct {
	Version int `json:"version"`
}

// Metrics tracks benchmark results
type Metrics struct {
	Created        atomic.Int64
	CreateErrors   atomic.Int64
	StageMatches   atomic.Int64
	StageMismatch  atomic.Int64
	Assigns        atomic.Int64
	AssignChanged  atomic.Int64
	AssignConflict atomic.Int64
	AssignErrors   atomic.Int64

	CreateTimeMs atomic.Int64
	AssignTimeMs atomic.Int64

	mu      sync.Mutex
	routing map[string]int
}

func (m *Metrics) route(c *caseResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.routing == nil {
		m.routing = map[string]int{}
	}
	m.routing[fmt.Sprintf("%-5s %-6s %s", c.Stage, c.AssignmentGroup, c.AssignedTo)]++
}

func main() {
	csvPath := flag.String("csv", "", "Path to portfolio CSV file")
	generate := flag.Int("generate", 0, "Generate a synthetic portfolio of this size instead of reading a CSV")
	baseURL := flag.String("url", "http://localhost:8080", "Collector base URL")
	limit := flag.Int("limit", 10000, "Maximum rows to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	rounds := flag.Int("assign-rounds", 2, "Concurrent assign calls per case")
	verbose := flag.Bool("verbose", false, "Print each case result")
	flag.Parse()

	if *csvPath == "" && *generate <= 0 {
		fmt.Println("Usage: benchmark (-csv /path/to/portfolio.csv | -generate N) [-url http://localhost:8080]")
		fmt.Println("\nCSV columns: name,phone,email,country,riskScore,principal,outstanding,dpd[,expectedStage]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("COLLECTOR BENCHMARK - portfolio routing and assignment")
	fmt.Printf("\nCollector URL: %s\n", *baseURL)
	fmt.Printf("Workers:       %d\n", *workers)
	fmt.Printf("Assign rounds: %d\n", *rounds)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Collector not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Collector is running:")
		fmt.Println("  go run ./cmd/collector serve")
		os.Exit(1)
	}
	fmt.Println("✓ Collector is healthy")

	var rows []PortfolioRow
	if *csvPath != "" {
		var err error
		rows, err = readPortfolioCSV(*csvPath, *limit)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		rows = generatePortfolio(*generate)
	}
	fmt.Printf("✓ Loaded %d portfolio rows\n", len(rows))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(rows, *baseURL, *workers, *rounds, *verbose)
	printResults(metrics, time.Since(startTime))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readPortfolioCSV(path string, limit int) ([]PortfolioRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"name", "phone", "email", "country", "riskscore", "principal", "outstanding", "dpd"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}
	field := func(record []string, col string) string {
		i, ok := colIndex[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []PortfolioRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		risk, _ := strconv.ParseFloat(field(record, "riskscore"), 64)
		principal, _ := strconv.ParseFloat(field(record, "principal"), 64)
		outstanding, _ := strconv.ParseFloat(field(record, "outstanding"), 64)
		dpd, _ := strconv.Atoi(field(record, "dpd"))

		rows = append(rows, PortfolioRow{
			Name:          field(record, "name"),
			Phone:         field(record, "phone"),
			Email:         field(record, "email"),
			Country:       field(record, "country"),
			RiskScore:     risk,
			Principal:     principal,
			Outstanding:   outstanding,
			DaysPastDue:   dpd,
			ExpectedStage: strings.ToUpper(field(record, "expectedstage")),
		})

		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

// generatePortfolio spreads DPD over 0..90 days and risk over 300..1000.
// Emails carry the run timestamp so repeated runs do not collide.
func generatePortfolio(n int) []PortfolioRow {
	run := time.Now().Unix()
	countries := []string{"NG", "KE", "GH", "ZA"}
	rows := make([]PortfolioRow, n)
	for i := range rows {
		principal := float64(500 + rand.IntN(9500))
		rows[i] = PortfolioRow{
			Name:        fmt.Sprintf("Customer %d", i),
			Phone:       fmt.Sprintf("+234800%07d", i),
			Email:       fmt.Sprintf("bench-%d-%d@example.com", run, i),
			Country:     countries[i%len(countries)],
			RiskScore:   float64(300 + rand.IntN(701)),
			Principal:   principal,
			Outstanding: principal * rand.Float64(),
			DaysPastDue: rand.IntN(91),
		}
	}
	return rows
}

func runBenchmark(rows []PortfolioRow, baseURL string, numWorkers, rounds int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan PortfolioRow, 100)
	var wg sync.WaitGroup

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for row := range work {
				start := time.Now()
				created, err := createCase(client, baseURL, row)
				metrics.CreateTimeMs.Add(time.Since(start).Milliseconds())

				if err != nil {
					metrics.CreateErrors.Add(1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", row.Email, err)
					}
					continue
				}
				metrics.Created.Add(1)
				metrics.route(created)

				if row.ExpectedStage != "" {
					if row.ExpectedStage == created.Stage {
						metrics.StageMatches.Add(1)
					} else {
						metrics.StageMismatch.Add(1)
					}
				}

				assignConcurrently(client, baseURL, created, rounds, metrics)

				if verbose {
					fmt.Printf("✓ %s | dpd %3d | risk %6.1f | %-5s %-6s %s\n",
						created.ID, row.DaysPastDue, row.RiskScore,
						created.Stage, created.AssignmentGroup, created.AssignedTo)
				}
			}
		}()
	}

	for _, row := range rows {
		work <- row
	}
	close(work)
	wg.Wait()

	return metrics
}

// assignConcurrently pins every call to the version returned at creation so
// at most one call may change the case; the rest must be no-ops or conflicts.
func assignConcurrently(client *http.Client, baseURL string, c *caseResponse, rounds int, metrics *Metrics) {
	var wg sync.WaitGroup
	for range rounds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			status, res, err := assignCase(client, baseURL, c.ID, c.Version)
			metrics.AssignTimeMs.Add(time.Since(start).Milliseconds())
			metrics.Assigns.Add(1)

			switch {
			case err != nil:
				metrics.AssignErrors.Add(1)
			case status == http.StatusConflict:
				metrics.AssignConflict.Add(1)
			case status == http.StatusOK && res.Version > c.Version:
				metrics.AssignChanged.Add(1)
			case status != http.StatusOK:
				metrics.AssignErrors.Add(1)
			}
		}()
	}
	wg.Wait()
}

func createCase(client *http.Client, baseURL string, row PortfolioRow) (*caseResponse, error) {
	due := time.Now().UTC().AddDate(0, 0, -row.DaysPastDue).Format(time.DateOnly)
	req := createFullRequest{
		Customer: customerBody{
			Name:      row.Name,
			Phone:     row.Phone,
			Email:     row.Email,
			Country:   row.Country,
			RiskScore: row.RiskScore,
		},
		Loan: loanBody{
			Principal:   row.Principal,
			Outstanding: row.Outstanding,
			DueDate:     due,
		},
	}

	status, body, err := postJSON(client, baseURL+"/api/cases/full", req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("status %d: %s", status, bytes.TrimSpace(body))
	}

	var result caseResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func assignCase(client *http.Client, baseURL, caseID string, expectedVersion int) (int, *assignResponse, error) {
	status, body, err := postJSON(client, baseURL+"/api/cases/"+caseID+"/assign",
		map[string]int{"expectedVersion": expectedVersion})
	if err != nil || status != http.StatusOK {
		return status, nil, err
	}

	var result assignResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return status, nil, err
	}
	return status, &result, nil
}

func postJSON(client *http.Client, url string, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	created := m.Created.Load()
	fmt.Printf("\n📊 CASES\n")
	fmt.Printf("   Created:          %d\n", created)
	fmt.Printf("   Create errors:    %d\n", m.CreateErrors.Load())

	fmt.Printf("\n📈 ROUTING (stage group assignee)\n")
	keys := make([]string, 0, len(m.routing))
	for k := range m.routing {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Printf("   %-36s %8d\n", k, m.routing[k])
	}

	if checked := m.StageMatches.Load() + m.StageMismatch.Load(); checked > 0 {
		fmt.Printf("\n🎯 EXPECTED STAGE\n")
		fmt.Printf("   Matched:          %d / %d (%.2f%%)\n",
			m.StageMatches.Load(), checked, 100*float64(m.StageMatches.Load())/float64(checked))
	}

	assigns := m.Assigns.Load()
	fmt.Printf("\n🔁 ASSIGNMENT\n")
	fmt.Printf("   Calls:            %d\n", assigns)
	fmt.Printf("   Changed case:     %d\n", m.AssignChanged.Load())
	fmt.Printf("   Conflicts (409):  %d\n", m.AssignConflict.Load())
	fmt.Printf("   Errors:           %d\n", m.AssignErrors.Load())
	if created > 0 && m.AssignChanged.Load() > created {
		fmt.Println("   ⚠ more changes than cases: version pinning was not honoured")
	}

	fmt.Printf("\n⏱ PERFORMANCE\n")
	fmt.Printf("   Total duration:   %s\n", duration.Round(time.Millisecond))
	if total := created + m.CreateErrors.Load(); total > 0 {
		fmt.Printf("   Avg create:       %.2f ms\n", float64(m.CreateTimeMs.Load())/float64(total))
	}
	if assigns > 0 {
		fmt.Printf("   Avg assign:       %.2f ms\n", float64(m.AssignTimeMs.Load())/float64(assigns))
	}
	if duration > 0 {
		fmt.Printf("   Throughput:       %.1f cases/s\n", float64(created)/duration.Seconds())
	}
}
