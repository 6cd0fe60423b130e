package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"finsync/internal/aggregator"
	"finsync/internal/aggregator/plaid"
	"finsync/internal/aggregator/teller"
	"finsync/internal/domain/account"
	"finsync/internal/domain/sync"
	"finsync/internal/infrastructure/crypto"
	"finsync/internal/infrastructure/postgres"
	"finsync/internal/shared/config"
)

const usage = `Finsync Admin CLI - Diagnostics for provider connectivity and sync

Usage:
  admin <command> [options]

Commands:
  fetch-balance       Fetch the live balance for one provider account
  fetch-transactions  Fetch recent transactions for one provider account
  fetch-account       Fetch account metadata from the provider
  fetch-institution   Fetch institution details from the provider
  sync-account        Run one sync pass for a linked account

Examples:
  # Check provider connectivity with a raw credential
  admin fetch-balance --provider=plaid --token=access-sandbox-... --account-ref=ext-acc-1

  # Pull the last two weeks of transactions
  admin fetch-transactions --provider=teller --token=token_... --account-ref=acc_... --days=14

  # Run a full sync for a stored account (results are persisted)
  admin sync-account --account-id=7f3c...
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "fetch-balance":
		runFetchBalance(os.Args[2:])
	case "fetch-transactions":
		runFetchTransactions(os.Args[2:])
	case "fetch-account":
		runFetchAccount(os.Args[2:])
	case "fetch-institution":
		runFetchInstitution(os.Args[2:])
	case "sync-account":
		runSyncAccount(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Println(usage)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Println(usage)
		os.Exit(1)
	}
}

// newAdapter builds a provider client from the environment configuration.
func newAdapter(cfg *config.Config, provider string) (aggregator.Adapter, error) {
	switch provider {
	case "plaid":
		return plaid.NewClient(plaid.Config{
			ClientID:    cfg.Plaid.ClientID,
			Secret:      cfg.Plaid.Secret,
			Environment: cfg.Plaid.Environment,
		})
	case "teller":
		if cfg.Teller.CertFile == "" || cfg.Teller.KeyFile == "" {
			return nil, fmt.Errorf("teller requires TELLER_CERT_FILE and TELLER_KEY_FILE")
		}
		return teller.NewClientFromFiles(cfg.Teller.BaseURL, cfg.Teller.CertFile, cfg.Teller.KeyFile)
	default:
		return nil, fmt.Errorf("unknown provider %q (must be plaid or teller)", provider)
	}
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Failed to render result: %v", err)
	}
	fmt.Println(string(out))
}

type providerFlags struct {
	provider   *string
	token      *string
	accountRef *string
}

func addProviderFlags(fs *flag.FlagSet) providerFlags {
	return providerFlags{
		provider:   fs.String("provider", "plaid", "Provider (plaid or teller)"),
		token:      fs.String("token", "", "Provider access token"),
		accountRef: fs.String("account-ref", "", "Provider-side account reference"),
	}
}

func (pf providerFlags) adapter(fs *flag.FlagSet) (aggregator.Adapter, aggregator.Credential) {
	if *pf.token == "" {
		fmt.Println("Error: --token is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	adapter, err := newAdapter(cfg, *pf.provider)
	if err != nil {
		log.Fatalf("Failed to create %s client: %v", *pf.provider, err)
	}

	return adapter, aggregator.Credential{Token: *pf.token}
}

func runFetchBalance(args []string) {
	fs := flag.NewFlagSet("fetch-balance", flag.ExitOnError)
	pf := addProviderFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	adapter, cred := pf.adapter(fs)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	balance, err := adapter.FetchBalance(ctx, cred, *pf.accountRef)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}
	printJSON(balance)
}

func runFetchTransactions(args []string) {
	fs := flag.NewFlagSet("fetch-transactions", flag.ExitOnError)
	pf := addProviderFlags(fs)
	days := fs.Int("days", 30, "Lookback window in days")
	count := fs.Int("count", 100, "Maximum transactions to fetch")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	adapter, cred := pf.adapter(fs)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	window := aggregator.Window{
		Since: time.Now().AddDate(0, 0, -*days),
		Count: *count,
	}
	transactions, err := adapter.FetchTransactions(ctx, cred, *pf.accountRef, window)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}

	log.Printf("Fetched %d transactions", len(transactions))
	printJSON(transactions)
}

func runFetchAccount(args []string) {
	fs := flag.NewFlagSet("fetch-account", flag.ExitOnError)
	pf := addProviderFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	adapter, cred := pf.adapter(fs)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	details, err := adapter.FetchAccountDetails(ctx, cred, *pf.accountRef)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}
	printJSON(details)
}

func runFetchInstitution(args []string) {
	fs := flag.NewFlagSet("fetch-institution", flag.ExitOnError)
	provider := fs.String("provider", "plaid", "Provider (plaid or teller)")
	institution := fs.String("institution", "", "Provider-side institution reference")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *institution == "" {
		fmt.Println("Error: --institution is required")
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	adapter, err := newAdapter(cfg, *provider)
	if err != nil {
		log.Fatalf("Failed to create %s client: %v", *provider, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	inst, err := adapter.FetchInstitution(ctx, *institution)
	if err != nil {
		log.Fatalf("Fetch failed: %v", err)
	}
	printJSON(inst)
}

// runSyncAccount runs the production sync path for one stored account and
// persists the results, without pushing notifications.
func runSyncAccount(args []string) {
	fs := flag.NewFlagSet("sync-account", flag.ExitOnError)
	accountID := fs.String("account-id", "", "Linked account ID")
	timeoutStr := fs.String("timeout", "2m", "Timeout for the operation (e.g., 30s, 5m)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *accountID == "" {
		fmt.Println("Error: --account-id is required")
		fs.Usage()
		os.Exit(1)
	}

	timeout, err := time.ParseDuration(*timeoutStr)
	if err != nil {
		log.Fatalf("Invalid timeout format: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := postgres.New(cfg.Database.ConnectionString())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		log.Fatalf("Failed to create encryptor: %v", err)
	}

	accountRepo := postgres.NewAccountRepository(db, encryptor)
	transactionRepo := postgres.NewTransactionRepository(db)
	engine := sync.NewEngine(accountRepo, transactionRepo, sync.NopSink{}, sync.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	acct, err := accountRepo.GetByID(ctx, *accountID)
	if err != nil {
		log.Fatalf("Failed to load account: %v", err)
	}

	adapter, err := newAdapter(cfg, acct.Provider)
	if err != nil {
		log.Fatalf("Failed to create %s client: %v", acct.Provider, err)
	}

	startTime := time.Now()
	result, err := engine.SyncAccount(ctx, acct, adapter)
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}

	printResult(acct, result)
	log.Printf("Sync completed in %v", time.Since(startTime))
}

func printResult(acct *account.Account, result *sync.Result) {
	fmt.Printf("\n=== Account %s (%s) ===\n", acct.ID, acct.Provider)
	fmt.Printf("  Status:                 %s\n", result.Status)
	fmt.Printf("  Balance synced:         %t\n", result.BalanceSynced)
	fmt.Printf("  Transactions ingested:  %d\n", result.TransactionsIngested)
	fmt.Printf("  Transactions updated:   %d\n", result.TransactionsUpdated)

	if len(result.Errors) > 0 {
		fmt.Printf("  Errors:                 %d\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("    - [%s] %s (retryable=%t)\n", e.Code, e.Message, e.Retryable)
		}
	}
}
