// Command loadtest hammers the vote engine and the shared infrastructure
// directly, without the HTTP layer, and reports whether the counters stayed
// consistent.
//
//	go run ./cmd/loadtest -users 200 -rounds 5 vote lock rate
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"polls-backend/cache"
	"polls-backend/config"
	"polls-backend/database"
	"polls-backend/logger"
	"polls-backend/migrations"
	"polls-backend/service"
)

type env struct {
	cfg *config.Config
	db  *gorm.DB
	log *slog.Logger

	locker  service.Locker
	limiter cache.RateLimiter
}

func main() {
	users := flag.Int("users", 100, "concurrent voters")
	rounds := flag.Int("rounds", 3, "votes cast by each voter")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	out := logger.Output(cfg.Log)
	log := logger.New(cfg.Log, out)

	db, err := database.Open(cfg.Database, out)
	if err != nil {
		log.Error("open database failed", "error", err.Error())
		os.Exit(1)
	}
	defer database.Close(db)
	if err := migrations.Run(db, log); err != nil {
		log.Error("migrate database failed", "error", err.Error())
		os.Exit(1)
	}

	e := &env{cfg: cfg, db: db, log: log, locker: cache.NewLocalLocker()}
	rdb, _ := cache.NewRedis(context.Background(), cfg.Redis, log)
	if rdb != nil {
		defer rdb.Close()
		e.locker = cache.NewLockService(rdb)
	}
	e.limiter = cache.NewRateLimiter(rdb, "loadtest", 3, 5)

	scenarios := flag.Args()
	if len(scenarios) == 0 {
		scenarios = []string{"vote", "lock", "rate"}
	}

	failed := false
	for _, s := range scenarios {
		var err error
		switch s {
		case "vote":
			err = e.testVotes(*users, *rounds)
		case "lock":
			err = e.testLock(10)
		case "rate":
			err = e.testRateLimiter()
		default:
			err = fmt.Errorf("unknown scenario %q", s)
		}
		if err != nil {
			failed = true
			log.Error("scenario failed", "scenario", s, "error", err.Error())
			continue
		}
		log.Info("scenario passed", "scenario", s)
	}
	if failed {
		os.Exit(1)
	}
}

// testVotes lets every user vote and switch concurrently on one poll, then
// checks every counter against the vote rows.
func (e *env) testVotes(users, rounds int) error {
	ctx := context.Background()
	polls := service.NewPollService(e.db, e.log)
	accounts := service.NewUserService(e.db)
	votes := service.NewVoteService(e.db, e.cfg.Database.TxTimeout, e.log)
	reconciler := service.NewReconciler(e.db, e.locker, e.log)

	owner := fmt.Sprintf("loadtest-owner-%d", time.Now().UnixNano())
	if err := accounts.Ensure(ctx, owner, "Load Test"); err != nil {
		return err
	}
	choices := []string{"red", "green", "blue", "yellow"}
	poll, err := polls.CreatePoll(ctx, owner, service.CreatePollInput{Title: "Load test", Choices: choices})
	if err != nil {
		return err
	}
	defer func() {
		if err := polls.DeletePoll(ctx, poll.ID, owner); err != nil {
			e.log.Warn("cleanup poll failed", "poll_id", poll.ID, "error", err.Error())
		}
	}()

	var (
		wg       sync.WaitGroup
		ok, fail atomic.Int64
	)
	start := time.Now()
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			userID := fmt.Sprintf("%s-voter-%d", owner, idx)
			if err := accounts.Ensure(ctx, userID, ""); err != nil {
				fail.Add(1)
				return
			}
			rng := rand.New(rand.NewSource(int64(idx)))
			for r := 0; r < rounds; r++ {
				in := service.CastVoteInput{
					PollID:     poll.ID,
					ChoiceName: choices[rng.Intn(len(choices))],
					UserID:     userID,
					Anonymous:  rng.Intn(2) == 0,
				}
				err := service.RetryOnConflict(ctx, 5, 20*time.Millisecond, func(ctx context.Context) error {
					_, err := votes.CastVote(ctx, in)
					return err
				})
				if err != nil {
					fail.Add(1)
					continue
				}
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()

	e.log.Info("votes cast",
		"poll_id", poll.ID,
		"succeeded", ok.Load(),
		"failed", fail.Load(),
		"elapsed", time.Since(start).String(),
	)

	report, err := reconciler.Check(ctx)
	if err != nil {
		return err
	}
	if !report.Clean() {
		return fmt.Errorf("counter drift: %d choices, %d polls", len(report.Choices), len(report.Polls))
	}
	if fail.Load() > 0 {
		return fmt.Errorf("%d votes failed", fail.Load())
	}
	return nil
}

// testLock has n workers race for one lock; exactly one should win.
func (e *env) testLock(n int) error {
	var (
		wg       sync.WaitGroup
		acquired atomic.Int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := e.locker.WithLock(context.Background(), "loadtest:lock", 5*time.Second, func(context.Context) error {
				acquired.Add(1)
				time.Sleep(500 * time.Millisecond)
				return nil
			})
			if err != nil && !errors.Is(err, cache.ErrLockNotAcquired) {
				e.log.Warn("lock failed", "error", err.Error())
			}
		}()
	}
	wg.Wait()

	if got := acquired.Load(); got != 1 {
		return fmt.Errorf("lock acquired %d times", got)
	}
	return nil
}

// testRateLimiter sends a burst of 10 requests against a 3/s bucket of 5.
func (e *env) testRateLimiter() error {
	key := fmt.Sprintf("burst-%d", time.Now().UnixNano())
	allowed := 0
	for i := 0; i < 10; i++ {
		ok, err := e.limiter.Allow(context.Background(), key)
		if err != nil {
			return err
		}
		if ok {
			allowed++
		}
	}
	e.log.Info("rate limiter burst", "allowed", allowed, "sent", 10)
	if allowed != 5 {
		return fmt.Errorf("burst admitted %d requests, want 5", allowed)
	}
	return nil
}
