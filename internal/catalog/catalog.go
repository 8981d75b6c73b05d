/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package catalog manages products and customers.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/curie/internal/cache"
	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/models"
)

var (
	ErrProductNotFound  = errors.New("product not found")
	ErrCustomerNotFound = errors.New("customer not found")
	ErrInvalidProduct   = errors.New("invalid product")
	ErrInvalidCustomer  = errors.New("invalid customer")
)

// Service reads and writes catalog entries. Reads go through the cache.
type Service struct {
	db     *gorm.DB
	cache  *cache.Cache
	bus    events.Publisher
	logger zerolog.Logger
}

// NewService creates a catalog service. A nil cache disables caching.
func NewService(db *gorm.DB, c *cache.Cache, bus events.Publisher, logger zerolog.Logger) *Service {
	logger = logger.With().Str("component", "catalog").Logger()
	if c == nil {
		c = cache.Disabled(logger)
	}
	return &Service{db: db, cache: c, bus: bus, logger: logger}
}

// ValidateProduct checks the parameters the scheduler depends on.
func ValidateProduct(p *models.Product) error {
	switch {
	case strings.TrimSpace(p.Code) == "":
		return fmt.Errorf("%w: code required", ErrInvalidProduct)
	case p.HalfLifeMinutes <= 0:
		return fmt.Errorf("%w: half_life_minutes must be positive", ErrInvalidProduct)
	case p.ShelfLifeMinutes <= 0:
		return fmt.Errorf("%w: shelf_life_minutes must be positive", ErrInvalidProduct)
	case p.SynthesisMinutes < 0 || p.QCMinutes < 0 || p.PackagingMinutes < 0:
		return fmt.Errorf("%w: stage durations must not be negative", ErrInvalidProduct)
	case p.OveragePercent < 0:
		return fmt.Errorf("%w: overage_percent must not be negative", ErrInvalidProduct)
	case p.MinutesPerDose < 0:
		return fmt.Errorf("%w: minutes_per_dose must not be negative", ErrInvalidProduct)
	}
	return nil
}

// ValidateCustomer checks a customer before it is stored.
func ValidateCustomer(c *models.Customer) error {
	switch {
	case strings.TrimSpace(c.Code) == "":
		return fmt.Errorf("%w: code required", ErrInvalidCustomer)
	case c.TravelMinutes < 0:
		return fmt.Errorf("%w: travel_minutes must not be negative", ErrInvalidCustomer)
	}
	return nil
}

// CreateProduct stores a new product.
func (s *Service) CreateProduct(ctx context.Context, p *models.Product) error {
	if err := ValidateProduct(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ActivityUnit == "" {
		p.ActivityUnit = "mCi"
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	s.logger.Info().Str("product_id", p.ID).Str("code", p.Code).Msg("product created")
	return nil
}

// UpsertProduct creates or updates a product matched by code.
func (s *Service) UpsertProduct(ctx context.Context, p *models.Product) error {
	if err := ValidateProduct(p); err != nil {
		return err
	}

	var existing models.Product
	err := s.db.WithContext(ctx).Where("code = ?", p.Code).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.CreateProduct(ctx, p)
	}
	if err != nil {
		return fmt.Errorf("load product: %w", err)
	}

	p.ID = existing.ID
	p.CreatedAt = existing.CreatedAt
	if p.ActivityUnit == "" {
		p.ActivityUnit = existing.ActivityUnit
	}
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	if err := s.cache.InvalidateProduct(ctx, p.ID); err != nil {
		s.logger.Debug().Err(err).Str("product_id", p.ID).Msg("cache invalidation failed")
	}
	s.bus.Publish(events.EventProductUpdated, events.Payload{"product_id": p.ID})
	return nil
}

// GetProduct loads a product by ID.
func (s *Service) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if p, ok := s.cache.GetProduct(ctx, id); ok {
		return p, nil
	}

	var p models.Product
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}

	if err := s.cache.SetProduct(ctx, &p); err != nil {
		s.logger.Debug().Err(err).Str("product_id", id).Msg("cache write failed")
	}
	return &p, nil
}

// ListProducts returns all products ordered by code.
func (s *Service) ListProducts(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	if err := s.db.WithContext(ctx).Order("code").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return out, nil
}

// CreateCustomer stores a new customer.
func (s *Service) CreateCustomer(ctx context.Context, c *models.Customer) error {
	if err := ValidateCustomer(c); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	s.logger.Info().Str("customer_id", c.ID).Str("code", c.Code).Msg("customer created")
	return nil
}

// UpsertCustomer creates or updates a customer matched by code.
func (s *Service) UpsertCustomer(ctx context.Context, c *models.Customer) error {
	if err := ValidateCustomer(c); err != nil {
		return err
	}

	var existing models.Customer
	err := s.db.WithContext(ctx).Where("code = ?", c.Code).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.CreateCustomer(ctx, c)
	}
	if err != nil {
		return fmt.Errorf("load customer: %w", err)
	}

	c.ID = existing.ID
	c.CreatedAt = existing.CreatedAt
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return fmt.Errorf("update customer: %w", err)
	}

	if err := s.cache.InvalidateCustomer(ctx, c.ID); err != nil {
		s.logger.Debug().Err(err).Str("customer_id", c.ID).Msg("cache invalidation failed")
	}
	s.bus.Publish(events.EventCustomerUpdated, events.Payload{"customer_id": c.ID})
	return nil
}

// GetCustomer loads a customer by ID.
func (s *Service) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	if c, ok := s.cache.GetCustomer(ctx, id); ok {
		return c, nil
	}

	var c models.Customer
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}

	if err := s.cache.SetCustomer(ctx, &c); err != nil {
		s.logger.Debug().Err(err).Str("customer_id", id).Msg("cache write failed")
	}
	return &c, nil
}

// ListCustomers returns all customers ordered by code.
func (s *Service) ListCustomers(ctx context.Context) ([]models.Customer, error) {
	var out []models.Customer
	if err := s.db.WithContext(ctx).Order("code").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return out, nil
}
