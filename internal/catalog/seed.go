/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/curie/internal/models"
)

// SeedFile is the YAML layout of a catalog seed:
//
//	products:
//	  - code: FDG
//	    isotope: F-18
//	    half_life_minutes: 109.77
//	    shelf_life_minutes: 600
//	    ...
//	customers:
//	  - code: STMARY
//	    travel_minutes: 45
type SeedFile struct {
	Products  []ProductSeed  `yaml:"products"`
	Customers []CustomerSeed `yaml:"customers"`
}

// ProductSeed is one product entry.
type ProductSeed struct {
	Code             string  `yaml:"code"`
	Name             string  `yaml:"name"`
	Isotope          string  `yaml:"isotope"`
	HalfLifeMinutes  float64 `yaml:"half_life_minutes"`
	ShelfLifeMinutes int     `yaml:"shelf_life_minutes"`
	SynthesisMinutes int     `yaml:"synthesis_minutes"`
	QCMinutes        int     `yaml:"qc_minutes"`
	PackagingMinutes int     `yaml:"packaging_minutes"`
	OveragePercent   float64 `yaml:"overage_percent"`
	MinutesPerDose   int     `yaml:"minutes_per_dose"`
	ActivityUnit     string  `yaml:"activity_unit"`
}

// CustomerSeed is one customer entry.
type CustomerSeed struct {
	Code          string `yaml:"code"`
	Name          string `yaml:"name"`
	Address       string `yaml:"address"`
	TravelMinutes int    `yaml:"travel_minutes"`
}

// ParseSeed decodes a YAML seed document. Unknown keys are rejected.
func ParseSeed(data []byte) (*SeedFile, error) {
	var f SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse catalog seed: %w", err)
	}
	return &f, nil
}

// LoadFile reads and parses a seed file.
func LoadFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog seed: %w", err)
	}
	return ParseSeed(data)
}

// Seed upserts every entry by code and reports how many of each were applied.
func (s *Service) Seed(ctx context.Context, f *SeedFile) (products, customers int, err error) {
	for _, ps := range f.Products {
		p := &models.Product{
			Code:             ps.Code,
			Name:             ps.Name,
			Isotope:          ps.Isotope,
			HalfLifeMinutes:  ps.HalfLifeMinutes,
			ShelfLifeMinutes: ps.ShelfLifeMinutes,
			SynthesisMinutes: ps.SynthesisMinutes,
			QCMinutes:        ps.QCMinutes,
			PackagingMinutes: ps.PackagingMinutes,
			OveragePercent:   ps.OveragePercent,
			MinutesPerDose:   ps.MinutesPerDose,
			ActivityUnit:     ps.ActivityUnit,
		}
		if err := s.UpsertProduct(ctx, p); err != nil {
			return products, customers, fmt.Errorf("product %s: %w", ps.Code, err)
		}
		products++
	}

	for _, cs := range f.Customers {
		c := &models.Customer{
			Code:          cs.Code,
			Name:          cs.Name,
			Address:       cs.Address,
			TravelMinutes: cs.TravelMinutes,
		}
		if err := s.UpsertCustomer(ctx, c); err != nil {
			return products, customers, fmt.Errorf("customer %s: %w", cs.Code, err)
		}
		customers++
	}

	s.logger.Info().Int("products", products).Int("customers", customers).Msg("catalog seeded")
	return products, customers, nil
}
