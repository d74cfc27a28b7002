package storage

import (
	"context"
	"fmt"
	"time"
)

// SeedResult counts what Seed inserted.
type SeedResult struct {
	Products  int
	MRPOrders int
	Orders    int
	Documents int
}

// Seed loads a small demo catalogue relative to now: products with stock, a
// bill of materials, manufacturing orders (one of them late), sale and
// purchase orders and a couple of documents. It does nothing when products
// already exist.
func (s *Store) Seed(ctx context.Context, now time.Time) (SeedResult, error) {
	var res SeedResult
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return res, fmt.Errorf("counting products: %w", err)
	}
	if count > 0 {
		return res, nil
	}

	loc, err := s.DefaultLocation(ctx)
	if err != nil {
		return res, fmt.Errorf("loading default location: %w", err)
	}

	catalogue := []struct {
		p   Product
		qty float64
	}{
		{Product{Name: "Tablero de roble", Type: "product", Price: 45, Cost: 22}, 40},
		{Product{Name: "Patas de roble", Type: "product", Price: 8, Cost: 3.5}, 160},
		{Product{Name: "Tornillos 4x40", Type: "consu", Price: 0.1, Cost: 0.02}, 2000},
		{Product{Name: "Mesa de roble", Type: "product", Price: 320, Cost: 140}, 3},
		{Product{Name: "Harina de trigo", Type: "consu", Price: 1.2, Cost: 0.6}, 5},
		{Product{Name: "Montaje a domicilio", Type: "service", Price: 50, Cost: 20}, 0},
	}
	ids := make(map[string]int64, len(catalogue))
	for _, c := range catalogue {
		p, err := s.CreateProduct(ctx, c.p)
		if err != nil {
			return res, err
		}
		ids[p.Name] = p.ID
		res.Products++
		if c.qty > 0 {
			if err := s.SetStock(ctx, p.ID, loc.ID, c.qty); err != nil {
				return res, err
			}
		}
	}

	bom, err := s.CreateBoM(ctx, ids["Mesa de roble"], []BoMLine{
		{ProductID: ids["Tablero de roble"], Qty: 1},
		{ProductID: ids["Patas de roble"], Qty: 4},
		{ProductID: ids["Tornillos 4x40"], Qty: 16},
	})
	if err != nil {
		return res, err
	}

	mos := []MRPOrder{
		{ProductID: ids["Mesa de roble"], BoMID: bom.ID, Quantity: 10, State: "confirmed", Deadline: now.AddDate(0, 0, -3)},
		{ProductID: ids["Mesa de roble"], BoMID: bom.ID, Quantity: 5, State: "progress", Deadline: now.AddDate(0, 0, 7)},
		{ProductID: ids["Mesa de roble"], BoMID: bom.ID, Quantity: 2, State: "draft"},
		{ProductID: ids["Mesa de roble"], BoMID: bom.ID, Quantity: 4, State: "done", Deadline: now.AddDate(0, 0, -20)},
	}
	for _, o := range mos {
		if _, err := s.CreateMRPOrder(ctx, o); err != nil {
			return res, err
		}
		res.MRPOrders++
	}

	sales := []Order{
		{Name: "S00001", PartnerName: "Muebles García", State: "sale", AmountTotal: 3200, OrderDate: now.AddDate(0, 0, -10), DueDate: now.AddDate(0, 0, -2)},
		{Name: "S00002", PartnerName: "Hotel Miramar", State: "draft", AmountTotal: 1280, OrderDate: now.AddDate(0, 0, -3)},
		{Name: "S00003", PartnerName: "Hotel Miramar", State: "sent", AmountTotal: 640, OrderDate: now.AddDate(0, 0, -1)},
		{Name: "S00004", PartnerName: "Decoración Ruiz", State: "done", AmountTotal: 960, OrderDate: now.AddDate(0, -2, 0)},
	}
	for _, o := range sales {
		if _, err := s.CreateOrder(ctx, SaleOrders, o); err != nil {
			return res, err
		}
		res.Orders++
	}

	purchases := []Order{
		{Name: "P00001", PartnerName: "Maderas del Norte", State: "purchase", AmountTotal: 880, OrderDate: now.AddDate(0, 0, -12), DueDate: now.AddDate(0, 0, -1)},
		{Name: "P00002", PartnerName: "Ferretería Industrial", State: "to approve", AmountTotal: 120, OrderDate: now.AddDate(0, 0, -2)},
		{Name: "P00003", PartnerName: "Maderas del Norte", State: "draft", AmountTotal: 450, OrderDate: now},
	}
	for _, o := range purchases {
		if _, err := s.CreateOrder(ctx, PurchaseOrders, o); err != nil {
			return res, err
		}
		res.Orders++
	}

	docs := []Document{
		{Source: "docs", Title: "Procedimiento de montaje de mesas", Content: "Cada mesa de roble lleva un tablero, cuatro patas y dieciséis tornillos 4x40. Revisar el nivel antes de embalar."},
		{Source: "mail", Title: "Retraso en la entrega de tableros", Author: "Maderas del Norte", Content: "Les informamos de que el envío de tableros de roble llegará con una semana de retraso por falta de transporte."},
	}
	for _, d := range docs {
		if _, err := s.SaveDocument(ctx, d); err != nil {
			return res, err
		}
		res.Documents++
	}
	return res, nil
}
