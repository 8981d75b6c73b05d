/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/curie/internal/models"
)

type productRequest struct {
	Code             string  `json:"code"`
	Name             string  `json:"name"`
	Isotope          string  `json:"isotope"`
	HalfLifeMinutes  float64 `json:"half_life_minutes"`
	ShelfLifeMinutes int     `json:"shelf_life_minutes"`
	SynthesisMinutes int     `json:"synthesis_minutes"`
	QCMinutes        int     `json:"qc_minutes"`
	PackagingMinutes int     `json:"packaging_minutes"`
	OveragePercent   float64 `json:"overage_percent"`
	MinutesPerDose   int     `json:"minutes_per_dose"`
	ActivityUnit     string  `json:"activity_unit"`
}

type customerRequest struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	Address       string `json:"address"`
	TravelMinutes int    `json:"travel_minutes"`
}

func (a *API) handleProductsList(w http.ResponseWriter, r *http.Request) {
	products, err := a.catalog.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleProductsCreate(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := &models.Product{
		Code:             req.Code,
		Name:             req.Name,
		Isotope:          req.Isotope,
		HalfLifeMinutes:  req.HalfLifeMinutes,
		ShelfLifeMinutes: req.ShelfLifeMinutes,
		SynthesisMinutes: req.SynthesisMinutes,
		QCMinutes:        req.QCMinutes,
		PackagingMinutes: req.PackagingMinutes,
		OveragePercent:   req.OveragePercent,
		MinutesPerDose:   req.MinutesPerDose,
		ActivityUnit:     req.ActivityUnit,
	}
	if err := a.catalog.CreateProduct(r.Context(), p); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleProductsGet(w http.ResponseWriter, r *http.Request) {
	p, err := a.catalog.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleCustomersList(w http.ResponseWriter, r *http.Request) {
	customers, err := a.catalog.ListCustomers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customers)
}

func (a *API) handleCustomersCreate(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c := &models.Customer{
		Code:          req.Code,
		Name:          req.Name,
		Address:       req.Address,
		TravelMinutes: req.TravelMinutes,
	}
	if err := a.catalog.CreateCustomer(r.Context(), c); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleCustomersGet(w http.ResponseWriter, r *http.Request) {
	c, err := a.catalog.GetCustomer(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
