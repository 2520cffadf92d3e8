// Package main provides a CLI tool for seeding a development database with
// catalog items, products and a few lots, and for printing dev tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"lotledger/internal/app"
	"lotledger/internal/config"
	"lotledger/internal/core/apperror"
	appctx "lotledger/internal/core/context"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/auth"
	"lotledger/internal/domain/catalog"
	"lotledger/internal/domain/lots"
	"lotledger/pkg/logger"
)

type productSeed struct {
	code   string
	name   string
	price  string
	linked bool // false leaves catalog_ref empty for the integrity guard to repair
	lots   []lotSeed
}

type lotSeed struct {
	qty        int64
	cost       string
	expiryDays int
}

var seeds = []productSeed{
	{"MILK-1L", "Milk 1L", "1.20", true, []lotSeed{{48, "0.80", 5}, {24, "0.82", 12}}},
	{"BREAD-WH", "White bread", "2.10", true, []lotSeed{{30, "1.10", 2}}},
	{"RICE-5KG", "Rice 5kg", "9.90", true, []lotSeed{{10, "6.50", 0}}},
	{"EGGS-12", "Eggs, dozen", "3.40", false, []lotSeed{{20, "2.20", 14}}},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)

	if !cfg.IsDevelopment() {
		log.Fatal("seed refuses to run outside development (APP_ENV)")
	}

	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{
		UserID: "seed",
		Roles:  []string{lots.RoleAdmin},
	})

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatalw("failed to initialize services", "error", err)
	}
	defer a.Close()

	for _, s := range seeds {
		if err := seedProduct(ctx, a, log, s); err != nil {
			log.Fatalw("failed to seed product", "code", s.code, "error", err)
		}
	}

	printTokens(cfg, log)
	log.Info("seeding completed successfully")
}

func seedProduct(ctx context.Context, a *app.App, log *logger.Logger, s productSeed) error {
	product := &catalog.Product{
		ID:        id.New(),
		Code:      s.code,
		Name:      s.name,
		Price:     types.MustMoney(s.price),
		CreatedAt: time.Now().UTC(),
	}

	if s.linked {
		item, err := a.Items.GetByCode(ctx, s.code)
		if apperror.IsNotFound(err) {
			item = product.SynthesizeItem(id.ID{})
			err = a.Items.Create(ctx, item)
		}
		if err != nil {
			return fmt.Errorf("catalog item: %w", err)
		}
		ref := item.ID
		product.CatalogRef = &ref
	}

	if err := a.Products.Create(ctx, product); err != nil {
		if apperror.HasCode(err, apperror.CodeDuplicate) {
			log.Infow("product already exists", "code", s.code)
			return nil
		}
		return fmt.Errorf("product: %w", err)
	}

	// Resolves or repairs the catalog link exactly like the intake route.
	vc, err := a.Guard.Validate(ctx, product.ID)
	if err != nil {
		return fmt.Errorf("validate product: %w", err)
	}
	if len(vc.Repaired) > 0 {
		log.Infow("catalog link repaired", "code", s.code, "repairs", vc.Repaired)
	}

	for _, l := range s.lots {
		in := lots.CreateInput{
			CatalogRef:    vc.Item.ID,
			ProductRef:    &product.ID,
			Quantity:      types.NewQuantity(l.qty),
			PurchasePrice: types.MustMoney(l.cost),
			Supplier:      "Seed Supplier",
		}
		if l.expiryDays > 0 {
			exp := time.Now().UTC().AddDate(0, 0, l.expiryDays)
			in.ExpiryDate = &exp
		}
		entry, err := a.Lots.CreateEntry(ctx, in)
		if err != nil {
			return fmt.Errorf("create lot: %w", err)
		}
		log.Infow("lot created", "code", s.code, "entry_number", entry.EntryNumber, "quantity", entry.Available)
	}
	return nil
}

func printTokens(cfg *config.Config, log *logger.Logger) {
	secret := cfg.JWTSecret
	if secret == "" {
		secret = auth.DevSecret
	}
	jwtCfg := auth.DefaultJWTConfig(secret)
	jwtCfg.Issuer = cfg.JWTIssuer
	jwtCfg.AccessTokenTTL = 24 * time.Hour
	svc := auth.NewJWTService(jwtCfg)

	for _, u := range []appctx.UserContext{
		{UserID: "dev-admin", Email: "admin@example.com", Roles: []string{lots.RoleAdmin}},
		{UserID: "dev-clerk", Email: "clerk@example.com", Roles: []string{"clerk"}},
	} {
		token, expiresAt, err := svc.GenerateAccessToken(u)
		if err != nil {
			log.Warnw("failed to generate token", "user", u.UserID, "error", err)
			continue
		}
		fmt.Printf("%s (%v) expires %s\n  %s\n", u.UserID, u.Roles, expiresAt.Format(time.RFC3339), token)
	}
}
