package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/inventory-ledger/internal/adapter/storage"
	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
)

const (
	primaryLocation = int64(1)
	productID       = int64(1001)
	initialStock    = 200
	totalRequests   = 500
	queueSize       = 1000
)

// Hammers the allocation path with concurrent single-unit carts against the
// in-memory store and checks that exactly initialStock units were handed out.
func main() {
	ctx := context.Background()

	store := storage.NewMemoryStore()
	inventory := service.NewInventoryService(store, nil)
	allocations := service.NewAllocationService(store, nil, primaryLocation, queueSize)
	defer allocations.Close()

	key := domain.StockKey{ProductID: productID, LocationID: primaryLocation}
	if _, err := inventory.Increase(ctx, key, initialStock, "stress:seed"); err != nil {
		log.Fatalf("failed to seed stock: %v", err)
	}

	// Drain deliveries in background
	go func() {
		for range allocations.DeliveryQueue() {
		}
	}()

	var allocatedUnits atomic.Int32
	var soldOutCount atomic.Int32
	var busyCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	price := decimal.NewFromInt(10)
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			items, _, err := allocations.Allocate(ctx, fmt.Sprintf("user-%d", n), uuid.New(),
				[]domain.CartLine{{ProductID: productID, Quantity: 1, UnitPrice: price}})
			switch {
			case err == nil:
				for _, item := range items {
					allocatedUnits.Add(int32(item.Quantity))
				}
			case errors.Is(err, domain.ErrAllocationImpossible):
				soldOutCount.Add(1)
			case errors.Is(err, domain.ErrResourceBusy):
				busyCount.Add(1)
			default:
				log.Printf("unexpected error: %v", err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	allocated := allocatedUnits.Load()
	soldOut := soldOutCount.Load()
	busy := busyCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Units Allocated:  %d\n", allocated)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Busy:             %d\n", busy)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	rec, err := inventory.Record(ctx, key)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", rec.Quantity)

	if int(allocated)+rec.Quantity == initialStock {
		fmt.Println("PASS: allocated units + remaining stock == initial stock")
	} else {
		fmt.Printf("FAIL: %d allocated + %d remaining != %d initial\n",
			allocated, rec.Quantity, initialStock)
	}
	if rec.Quantity < 0 {
		fmt.Println("FAIL: stock went negative")
	}
}
