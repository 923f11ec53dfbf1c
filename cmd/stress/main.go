// Command stress drives concurrent opposite-direction transfers between two
// accounts over HTTP and verifies that no money is created or lost.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultURL is the base URL of the transfer service
	DefaultURL = "http://localhost:8080"

	// DefaultWorkers is the number of workers per direction
	DefaultWorkers = 16

	// DefaultTransfers is the number of transfers each worker submits
	DefaultTransfers = 50
)

// Config holds the stress run configuration
type Config struct {
	BaseURL        string
	AccountA       string
	AccountB       string
	InitialBalance decimal.Decimal
	Amount         decimal.Decimal
	Workers        int
	Transfers      int
}

// Results tracks the outcomes of all requests
type Results struct {
	Succeeded         int64
	InsufficientFunds int64
	Failed            int64
	InitialTotal      decimal.Decimal
	FinalTotal        decimal.Decimal
	Duration          time.Duration
}

// Conserved reports whether the final sum equals the initial sum.
func (r *Results) Conserved() bool {
	return r.InitialTotal.Equal(r.FinalTotal)
}

func main() {
	cfg := Config{}
	var initialBalance, amount string
	flag.StringVar(&cfg.BaseURL, "url", DefaultURL, "Transfer service base URL")
	flag.StringVar(&cfg.AccountA, "a", fmt.Sprintf("stress-a-%d", time.Now().UnixNano()), "First account id")
	flag.StringVar(&cfg.AccountB, "b", fmt.Sprintf("stress-b-%d", time.Now().UnixNano()), "Second account id")
	flag.StringVar(&initialBalance, "balance", "10000", "Initial balance of each account")
	flag.StringVar(&amount, "amount", "1", "Amount per transfer")
	flag.IntVar(&cfg.Workers, "workers", DefaultWorkers, "Workers per direction")
	flag.IntVar(&cfg.Transfers, "transfers", DefaultTransfers, "Transfers per worker")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var err error
	if cfg.InitialBalance, err = decimal.NewFromString(initialBalance); err != nil {
		logger.Error("Invalid balance", "error", err)
		os.Exit(2)
	}
	if cfg.Amount, err = decimal.NewFromString(amount); err != nil {
		logger.Error("Invalid amount", "error", err)
		os.Exit(2)
	}

	results, err := Run(context.Background(), &http.Client{Timeout: 30 * time.Second}, cfg)
	if err != nil {
		logger.Error("Stress run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Stress run finished",
		"succeeded", results.Succeeded,
		"insufficient_funds", results.InsufficientFunds,
		"failed", results.Failed,
		"initial_total", results.InitialTotal,
		"final_total", results.FinalTotal,
		"duration", results.Duration)

	if !results.Conserved() {
		logger.Error("Funds not conserved", "initial_total", results.InitialTotal, "final_total", results.FinalTotal)
		os.Exit(1)
	}
}

// Run creates both accounts, fires Workers goroutines in each direction and
// compares the balance sum before and after.
func Run(ctx context.Context, client *http.Client, cfg Config) (*Results, error) {
	c := &apiClient{http: client, baseURL: cfg.BaseURL}

	for _, id := range []string{cfg.AccountA, cfg.AccountB} {
		if err := c.createAccount(ctx, id, cfg.InitialBalance); err != nil {
			return nil, err
		}
	}

	results := &Results{InitialTotal: cfg.InitialBalance.Add(cfg.InitialBalance)}
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Workers; i++ {
		for _, pair := range [][2]string{{cfg.AccountA, cfg.AccountB}, {cfg.AccountB, cfg.AccountA}} {
			source, destination := pair[0], pair[1]
			g.Go(func() error {
				for n := 0; n < cfg.Transfers; n++ {
					status, err := c.transfer(gctx, source, destination, cfg.Amount)
					if err != nil {
						return err
					}
					switch status {
					case http.StatusCreated:
						atomic.AddInt64(&results.Succeeded, 1)
					case http.StatusUnprocessableEntity:
						atomic.AddInt64(&results.InsufficientFunds, 1)
					default:
						atomic.AddInt64(&results.Failed, 1)
					}
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	results.Duration = time.Since(start)

	total := decimal.Zero
	for _, id := range []string{cfg.AccountA, cfg.AccountB} {
		balance, err := c.balance(ctx, id)
		if err != nil {
			return nil, err
		}
		total = total.Add(balance)
	}
	results.FinalTotal = total

	return results, nil
}

type apiClient struct {
	http    *http.Client
	baseURL string
}

func (c *apiClient) createAccount(ctx context.Context, id string, balance decimal.Decimal) error {
	status, err := c.post(ctx, "/accounts", map[string]string{
		"account_id":      id,
		"initial_balance": balance.String(),
	})
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("create account %s: unexpected status %d", id, status)
	}
	return nil
}

func (c *apiClient) transfer(ctx context.Context, source, destination string, amount decimal.Decimal) (int, error) {
	return c.post(ctx, "/transactions", map[string]string{
		"source_account_id":      source,
		"destination_account_id": destination,
		"amount":                 amount.String(),
	})
}

func (c *apiClient) balance(ctx context.Context, id string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/accounts/"+id, nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("get account %s: unexpected status %d", id, resp.StatusCode)
	}

	var body struct {
		Data struct {
			Balance decimal.Decimal `json:"balance"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode account %s: %w", id, err)
	}
	return body.Data.Balance, nil
}

func (c *apiClient) post(ctx context.Context, path string, payload interface{}) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
