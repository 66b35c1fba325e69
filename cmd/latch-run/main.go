// Command latch-run wraps another command in a distributed lock. It is
// meant for cron fleets where the same job fires on every instance but must
// run on exactly one: the instance that wins the lock runs the command, the
// others log a skip and exit cleanly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	redis "github.com/redis/go-redis/v9"

	latcherrors "github.com/mirkobrombin/go-latch/v1/errors"
	"github.com/mirkobrombin/go-latch/v1/keeper"
	"github.com/mirkobrombin/go-latch/v1/lock"
	"github.com/mirkobrombin/go-latch/v1/store"
)

var (
	redisAddr = flag.String("redis-addr", "localhost:6379", "Redis address")
	redisDB   = flag.Int("redis-db", 0, "Redis database")
	key       = flag.String("key", "job_lock", "Lock key")
	ttl       = flag.Duration("ttl", 300*time.Second, "Lease duration; must exceed the job's worst-case runtime unless -extend is set")
	blocking  = flag.Bool("blocking", false, "Wait for the lock instead of skipping")
	poll      = flag.Duration("poll", 100*time.Millisecond, "Poll interval in blocking mode")
	timeout   = flag.Duration("timeout", 0, "Give up on a blocking acquire after this long (0 = no bound)")
	extend    = flag.Bool("extend", false, "Renew the lease in the background while the job runs")
	instance  = flag.String("instance", "", "Instance identity recorded as the lock holder (default hostname:pid)")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		log.Fatal("latch-run: no command given")
	}

	id := *instance
	if id == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		id = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	// The stored value doubles as the ownership token, so it needs a random
	// suffix to stay unique across attempts from the same instance.
	suffix, err := uuid.GenerateUUID()
	if err != nil {
		log.Fatalf("latch-run: generate token: %v", err)
	}
	token := id + "/" + suffix

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := redis.NewClient(&redis.Options{Addr: *redisAddr, DB: *redisDB})
	defer client.Close()

	opts := []lock.Option{lock.WithTTL(*ttl), lock.WithToken(token)}
	if *blocking {
		opts = append(opts, lock.WithBlocking(), lock.WithPollInterval(*poll))
		if *timeout > 0 {
			opts = append(opts, lock.WithAcquireTimeout(*timeout))
		}
	}
	h := lock.New(store.NewRedis(client), *key, opts...)

	ok, err := h.Acquire(ctx)
	if err != nil {
		log.Fatalf("latch-run [%s]: acquire %q: %v", id, *key, err)
	}
	if !ok {
		log.Printf("latch-run [%s]: lock %q held elsewhere, skipping this run", id, *key)
		return
	}
	log.Printf("latch-run [%s]: acquired lock %q", id, *key)

	var kp *keeper.Keeper
	if *extend {
		kp, err = keeper.Start(h, keeper.WithOnLost(func(err error) {
			log.Printf("latch-run [%s]: lease lost while running: %v", id, err)
		}))
		if err != nil {
			log.Fatalf("latch-run [%s]: start keeper: %v", id, err)
		}
	}

	exitCode := runCommand(ctx, args)

	// Release on every exit path; the deferred signal stop above keeps this
	// reachable even when the child was interrupted.
	relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if kp != nil {
		err = kp.Stop(relCtx)
	} else {
		err = h.Release(relCtx)
	}
	switch {
	case err == nil:
		log.Printf("latch-run [%s]: released lock %q", id, *key)
	case errors.Is(err, latcherrors.ErrLockLost):
		log.Printf("latch-run [%s]: lease expired before release; the job may have overlapped another holder", id)
	default:
		log.Printf("latch-run [%s]: release %q: %v", id, *key, err)
	}

	os.Exit(exitCode)
}

func runCommand(ctx context.Context, args []string) int {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		log.Printf("latch-run: run %s: %v", args[0], err)
		return 1
	}
	return 0
}
