/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/models"
)

const seedYAML = `
products:
  - code: FDG
    name: Fludeoxyglucose F-18
    isotope: F-18
    half_life_minutes: 109.77
    shelf_life_minutes: 600
    synthesis_minutes: 60
    qc_minutes: 30
    packaging_minutes: 15
    overage_percent: 10
    minutes_per_dose: 5
customers:
  - code: STMARY
    name: St Mary PET Centre
    travel_minutes: 45
`

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&models.Product{}, &models.Customer{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestValidateProduct(t *testing.T) {
	valid := models.Product{Code: "FDG", HalfLifeMinutes: 109.77, ShelfLifeMinutes: 600}

	tests := []struct {
		name   string
		mutate func(p *models.Product)
		ok     bool
	}{
		{"valid", func(p *models.Product) {}, true},
		{"missing code", func(p *models.Product) { p.Code = " " }, false},
		{"zero half-life", func(p *models.Product) { p.HalfLifeMinutes = 0 }, false},
		{"zero shelf life", func(p *models.Product) { p.ShelfLifeMinutes = 0 }, false},
		{"negative qc", func(p *models.Product) { p.QCMinutes = -1 }, false},
		{"negative overage", func(p *models.Product) { p.OveragePercent = -5 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := ValidateProduct(&p)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidProduct) {
				t.Fatalf("expected ErrInvalidProduct, got %v", err)
			}
		})
	}
}

func TestProductCRUD(t *testing.T) {
	svc := NewService(setupTestDB(t), nil, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	p := &models.Product{Code: "FDG", HalfLifeMinutes: 109.77, ShelfLifeMinutes: 600}
	if err := svc.CreateProduct(ctx, p); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	if p.ID == "" || p.ActivityUnit != "mCi" {
		t.Fatalf("defaults not applied: %+v", p)
	}

	got, err := svc.GetProduct(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.HalfLife().Minutes() < 109.76 || got.HalfLife().Minutes() > 109.78 {
		t.Fatalf("HalfLife = %v", got.HalfLife())
	}

	if _, err := svc.GetProduct(ctx, "missing"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestSeedUpsertsByCode(t *testing.T) {
	bus := events.NewBus()
	updated := bus.Subscribe(events.EventProductUpdated)
	svc := NewService(setupTestDB(t), nil, bus, zerolog.Nop())
	ctx := context.Background()

	f, err := ParseSeed([]byte(seedYAML))
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}

	products, customers, err := svc.Seed(ctx, f)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if products != 1 || customers != 1 {
		t.Fatalf("seeded %d products, %d customers", products, customers)
	}

	list, err := svc.ListProducts(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListProducts = %v, %v", list, err)
	}
	firstID := list[0].ID

	f.Products[0].ShelfLifeMinutes = 480
	if _, _, err := svc.Seed(ctx, f); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	got, err := svc.GetProduct(ctx, firstID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if got.ShelfLifeMinutes != 480 {
		t.Fatalf("ShelfLifeMinutes = %d, want 480", got.ShelfLifeMinutes)
	}

	select {
	case p := <-updated:
		if p["product_id"] != firstID {
			t.Fatalf("product_id = %v", p["product_id"])
		}
	default:
		t.Fatal("expected product update event on reseed")
	}

	customersList, err := svc.ListCustomers(ctx)
	if err != nil || len(customersList) != 1 {
		t.Fatalf("ListCustomers = %v, %v", customersList, err)
	}
	if customersList[0].Travel().Minutes() != 45 {
		t.Fatalf("Travel = %v", customersList[0].Travel())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(f.Products) != 1 || f.Products[0].HalfLifeMinutes != 109.77 {
		t.Fatalf("unexpected seed: %+v", f)
	}

	if _, err := ParseSeed([]byte("products:\n  - code: X\n    colour: red\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
	if f, err := ParseSeed(nil); err != nil || len(f.Products) != 0 {
		t.Fatalf("empty seed = %+v, %v", f, err)
	}
}

func TestSeedRejectsInvalidCustomer(t *testing.T) {
	svc := NewService(setupTestDB(t), nil, events.NewBus(), zerolog.Nop())
	_, _, err := svc.Seed(context.Background(), &SeedFile{
		Customers: []CustomerSeed{{Code: "BAD", TravelMinutes: -1}},
	})
	if !errors.Is(err, ErrInvalidCustomer) {
		t.Fatalf("expected ErrInvalidCustomer, got %v", err)
	}
}
