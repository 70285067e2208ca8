// seed loads the sample companies for local testing. Idempotent: companies are upserted.
//
// Optional flags print development credentials:
//
//	-admin-key <key>  prints the bcrypt hash to set as ADMIN_API_KEY_HASH
//	-token <user-id>  prints an access token for the claimant (needs JWT_PRIVATE_KEY, not in production)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	companyrepo "company-claims/backend/internal/company/repository"
	"company-claims/backend/internal/config"
	"company-claims/backend/internal/db"
	"company-claims/backend/internal/security"
)

func main() {
	adminKey := flag.String("admin-key", "", "print the bcrypt hash of this admin API key")
	tokenFor := flag.String("token", "", "print a dev access token for this claimant user id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or set DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	companies := companyrepo.NewPostgresRepository(conn)
	for _, c := range companyrepo.SampleCompanies() {
		if err := companies.Upsert(ctx, c); err != nil {
			log.Fatalf("upsert company %s: %v", c.ID, err)
		}
		domain := c.KnownEmailDomain
		if domain == "" {
			domain = "(none)"
		}
		log.Printf("company %s %q domain=%s", c.ID, c.Name, domain)
	}

	if *adminKey != "" {
		hash, err := security.HashAPIKey(*adminKey, bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("hash admin key: %v", err)
		}
		fmt.Printf("ADMIN_API_KEY_HASH=%s\n", hash)
	}

	if *tokenFor != "" {
		if cfg.IsProduction() {
			log.Fatal("refusing to mint tokens when APP_ENV=production")
		}
		if cfg.JWTPrivateKey == "" {
			log.Fatal("JWT_PRIVATE_KEY is required to mint a dev token")
		}
		key, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
		if err != nil {
			log.Fatalf("private key: %v", err)
		}
		tokens := security.NewTokenProvider(key, nil, cfg.JWTIssuer, cfg.JWTAudience, 0)
		token, exp, err := tokens.IssueAccess(*tokenFor, "")
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Printf("ACCESS_TOKEN=%s\n# expires %s\n", token, exp.Format(time.RFC3339))
	}
}
