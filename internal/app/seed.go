package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

var demoUsers = []string{
	"alice@mall.local",
	"bob@mall.local",
}

var demoProducts = []domain.ProductRequest{
	{ProductName: "Apple", Category: domain.CategoryFood, ImageURL: "https://img.mall.local/apple.png", Price: 30, Stock: 100, Description: "Fresh red apple"},
	{ProductName: "Orange Juice", Category: domain.CategoryFood, ImageURL: "https://img.mall.local/juice.png", Price: 120, Stock: 40},
	{ProductName: "Toyota Corolla", Category: domain.CategoryCar, ImageURL: "https://img.mall.local/corolla.png", Price: 2_000_000, Stock: 3},
	{ProductName: "BMW X5", Category: domain.CategoryCar, ImageURL: "https://img.mall.local/x5.png", Price: 6_500_000, Stock: 1},
	{ProductName: "The Go Programming Language", Category: domain.CategoryEBook, ImageURL: "https://img.mall.local/gopl.png", Price: 900, Stock: 500},
}

// seedDemoData заполняет пустое хранилище тестовыми пользователями и товарами.
// Если каталог уже не пуст, ничего не делает.
func seedDemoData(ctx context.Context, backend storageBackend, logger *log.Entry) error {
	total, err := backend.CountProducts(ctx, domain.ProductQuery{})
	if err != nil {
		return fmt.Errorf("seed: count products: %w", err)
	}
	if total > 0 {
		logger.WithField("products", total).Debug("catalog not empty, demo seed skipped")
		return nil
	}

	userIDs := make([]int64, 0, len(demoUsers))
	for _, email := range demoUsers {
		id, err := backend.CreateUser(ctx, email)
		if err != nil {
			return fmt.Errorf("seed: create user %s: %w", email, err)
		}
		userIDs = append(userIDs, id)
	}
	for _, p := range demoProducts {
		if _, err := backend.CreateProduct(ctx, p); err != nil {
			return fmt.Errorf("seed: create product %s: %w", p.ProductName, err)
		}
	}

	logger.WithFields(log.Fields{
		"users":    userIDs,
		"products": len(demoProducts),
	}).Info("demo data seeded")
	return nil
}
