package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"creditgate/internal/auth"
	"creditgate/internal/billing"
	"creditgate/internal/config"
	"creditgate/internal/models"
	"creditgate/internal/pricing"
	"creditgate/internal/storage"
)

// bootstrap creates the first admin credential and a seeded credit
// account for an organization. It is idempotent per organization: an
// existing credit account is left untouched.
func main() {
	fmt.Println("Credit Gateway - Bootstrap")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	orgIDRaw := os.Getenv("BOOTSTRAP_ORG_ID")
	if orgIDRaw == "" {
		fmt.Fprintln(os.Stderr, "ERROR: BOOTSTRAP_ORG_ID must be set")
		os.Exit(1)
	}
	orgID, err := uuid.Parse(orgIDRaw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: BOOTSTRAP_ORG_ID must be a valid UUID: %v\n", err)
		os.Exit(1)
	}

	name := os.Getenv("BOOTSTRAP_CREDENTIAL_NAME")
	if name == "" {
		name = "bootstrap admin"
	}

	initialBalance := 0.0
	if raw := os.Getenv("BOOTSTRAP_INITIAL_BALANCE"); raw != "" {
		initialBalance, err = strconv.ParseFloat(raw, 64)
		if err != nil || initialBalance < 0 {
			fmt.Fprintln(os.Stderr, "ERROR: BOOTSTRAP_INITIAL_BALANCE must be a non-negative number")
			os.Exit(1)
		}
	}

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(storage.DBConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,

		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,

		CredentialCacheSize: 10,
		CredentialCacheTTL:  cfg.Database.CredentialCacheTTL,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()

	registry, err := auth.NewRegistry(storage.NewCredentialRepository(db), cfg.BcryptCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to initialize registry: %v\n", err)
		os.Exit(1)
	}

	cred, secret, err := registry.Create(ctx, orgID, auth.CreateParams{
		Name:               name,
		Permissions:        []models.Permission{models.PermissionAdmin},
		RateLimitPerMinute: 60,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create admin credential: %v\n", err)
		os.Exit(1)
	}

	ledger := billing.NewLedger(storage.NewCreditRepository(db), pricing.DefaultTable())
	if _, err := ledger.GetAccount(ctx, orgID); err != nil {
		account := &models.CreditAccount{
			ID:             uuid.New(),
			OrganizationID: orgID,
			Balance:        initialBalance,
		}
		if err := storage.NewCreditRepository(db).CreateAccount(ctx, account); err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: Failed to create credit account: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created credit account with balance %.2f\n", initialBalance)
	} else {
		fmt.Println("Credit account already exists, leaving balance untouched")
	}

	fmt.Println()
	fmt.Println("Admin credential created.")
	fmt.Printf("  Organization: %s\n", orgID)
	fmt.Printf("  Credential:   %s (%s)\n", cred.ID, cred.Name)
	fmt.Printf("  Secret:       %s\n", secret)
	fmt.Println()
	fmt.Println("Store the secret now. It cannot be recovered later.")
}
