package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/market-orders/internal/adapter/lock"
	"github.com/rl1809/market-orders/internal/adapter/storage"
	"github.com/rl1809/market-orders/internal/core/domain"
	"github.com/rl1809/market-orders/internal/core/mutex"
	"github.com/rl1809/market-orders/internal/core/service"
	"github.com/rl1809/market-orders/internal/logging"
	"github.com/rl1809/market-orders/internal/port"
)

const (
	productCost    = 10
	initialStock   = 1000
	initialBalance = 200
	totalRequests  = 50
	lockAttempts   = 50
)

func main() {
	ctx := context.Background()
	logger := logging.New(os.Getenv("LOG_LEVEL"))

	store := storage.NewMemoryAdapter()

	// REDIS_ADDR switches the buyer lock to the shared Redis implementation.
	var locker port.Locker = lock.NewLocalLocker()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect redis", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		locker = storage.NewRedisAdapter(rdb)
		fmt.Println("Using Redis lock at", addr)
	}

	userService := service.NewUserService(store, logger)
	productService := service.NewProductService(store, store, logger)
	orderService := service.NewOrderService(service.Dependencies{
		Orders:       store,
		Users:        store,
		Products:     store,
		Mutex:        mutex.NewCoordinator(locker, logger, mutex.WithBackoff(5*time.Millisecond, 100*time.Millisecond)),
		Log:          logger,
		LockAttempts: lockAttempts,
	})

	seller, err := userService.CreateUser(ctx, "stress-seller", domain.RoleSeller)
	must(logger, err)
	buyer, err := userService.CreateUser(ctx, "stress-buyer", domain.RoleBuyer)
	must(logger, err)
	_, err = userService.Deposit(ctx, buyer.ID, initialBalance)
	must(logger, err)
	product, err := productService.CreateProduct(ctx, seller.ID, "stress-item", productCost, initialStock)
	must(logger, err)

	// Counters
	var settled, unsettled, rejected, contended atomic.Int32

	// Every request comes from the same buyer
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			result, err := orderService.CreateOrder(ctx, product.ID, 1, buyer.ID)
			switch {
			case errors.Is(err, domain.ErrLockContention):
				contended.Add(1)
			case err != nil:
				rejected.Add(1)
			case result.Settlement.Failed():
				unsettled.Add(1)
			default:
				settled.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	final, err := userService.GetUser(ctx, buyer.ID)
	must(logger, err)
	expectedSettled := int32(initialBalance / productCost)

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Balance:  %d\n", initialBalance)
	fmt.Printf("Product Cost:     %d\n", productCost)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Settled:          %d\n", settled.Load())
	fmt.Printf("Unsettled:        %d\n", unsettled.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Lock Contention:  %d\n", contended.Load())
	fmt.Printf("Orders Stored:    %d\n", store.OrderCount())
	fmt.Printf("Final Balance:    %d\n", final.Balance)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	ok := true
	if final.Balance < 0 {
		fmt.Printf("FAIL: balance went negative: %d\n", final.Balance)
		ok = false
	} else {
		fmt.Println("PASS: balance never negative")
	}

	if settled.Load() == expectedSettled {
		fmt.Printf("PASS: exactly %d orders were paid for\n", expectedSettled)
	} else {
		fmt.Printf("FAIL: expected %d paid orders, got %d\n", expectedSettled, settled.Load())
		ok = false
	}

	if want := int64(initialBalance) - int64(settled.Load())*productCost; final.Balance != want {
		fmt.Printf("FAIL: expected final balance %d, got %d\n", want, final.Balance)
		ok = false
	}

	if !ok {
		os.Exit(1)
	}
}

func must(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("setup failed", "err", err)
		os.Exit(1)
	}
}
