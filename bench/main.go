package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mirkobrombin/go-latch/v1/lock"
	"github.com/mirkobrombin/go-latch/v1/store"
	redis "github.com/redis/go-redis/v9"
)

var (
	concurrency = flag.Int("c", 50, "Concurrency")
	requests    = flag.Int("n", 100000, "Requests")
	target      = flag.String("target", "all", "Target: latch-local, latch-redis, redis, dragonfly")
	redisAddr   = flag.String("redis-addr", "localhost:6379", "Redis Address")
	dfAddr      = flag.String("df-addr", "localhost:6380", "DragonFly Address")
)

func main() {
	flag.Parse()

	targets := strings.Split(*target, ",")
	if *target == "all" {
		targets = []string{"latch-local", "latch-redis", "redis", "dragonfly"}
	}

	fmt.Printf("| %-15s | %-10s | %-12s | %-12s |\n", "System", "Cycles/sec", "Avg Latency", "Contended")
	fmt.Println("|:---|:---|:---|:---|")

	for _, t := range targets {
		runBenchmark(strings.TrimSpace(t))
	}
}

// runBenchmark measures full acquire → release cycles. Goroutines share one
// key, so the contended column shows how many attempts lost the race.
func runBenchmark(name string) {
	var (
		cycleFn func(ctx context.Context, key string) (bool, error)
		cleanup func()
	)

	ctx := context.Background()
	key := "bench.lock"

	switch name {
	case "latch-local":
		s := store.NewInMemory()
		cycleFn = func(ctx context.Context, k string) (bool, error) {
			h := lock.New(s, k, lock.WithTTL(time.Hour))
			ok, err := h.Acquire(ctx)
			if err != nil || !ok {
				return ok, err
			}
			return true, h.Release(ctx)
		}

	case "latch-redis":
		r := redis.NewClient(&redis.Options{Addr: *redisAddr})
		s := store.NewRedis(r)
		cycleFn = func(ctx context.Context, k string) (bool, error) {
			h := lock.New(s, k, lock.WithTTL(time.Hour))
			ok, err := h.Acquire(ctx)
			if err != nil || !ok {
				return ok, err
			}
			return true, h.Release(ctx)
		}
		cleanup = func() { r.Close() }

	case "redis":
		r := redis.NewClient(&redis.Options{Addr: *redisAddr})
		cycleFn = rawRedisCycle(r)
		cleanup = func() { r.Close() }

	case "dragonfly":
		r := redis.NewClient(&redis.Options{Addr: *dfAddr})
		cycleFn = rawRedisCycle(r)
		cleanup = func() { r.Close() }

	default:
		log.Printf("Unknown target: %s", name)
		return
	}

	if cleanup != nil {
		defer cleanup()
	}

	var wg sync.WaitGroup
	var cycles, contended int64

	start := time.Now()
	totalReqs := *requests
	chunk := totalReqs / *concurrency

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < chunk; j++ {
				ok, err := cycleFn(ctx, key)
				if err != nil {
					continue
				}
				if ok {
					atomic.AddInt64(&cycles, 1)
				} else {
					atomic.AddInt64(&contended, 1)
				}
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	if cycles == 0 {
		fmt.Printf("| %-15s | %-10s | %-12s | %-12s |\n", name, "ERROR", "-", "-")
		return
	}

	throughput := float64(cycles) / elapsed.Seconds()
	avgLat := float64(elapsed.Nanoseconds()) / float64(cycles)

	fmt.Printf("| %-15s | %-10.0f | %-12.0f | %-12d |\n", name, throughput, avgLat, contended)
}

// rawRedisCycle is the floor: SET NX + unconditional DEL, no owner check.
func rawRedisCycle(r *redis.Client) func(ctx context.Context, key string) (bool, error) {
	return func(ctx context.Context, key string) (bool, error) {
		ok, err := r.SetNX(ctx, key, "bench", time.Hour).Result()
		if err != nil || !ok {
			return ok, err
		}
		return true, r.Del(ctx, key).Err()
	}
}
