// Package poll runs cancellable periodic jobs, such as the price and sheet
// refreshes, on a cron scheduler.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Func is the polled job. ctx is cancelled when the subscription stops.
type Func func(ctx context.Context) error

// Subscription is one running poller
type Subscription struct {
	name   string
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	first  sync.WaitGroup
	once   sync.Once
}

// Subscribe runs fn once right away and then every interval until Stop.
// Runs never overlap: a tick that finds the previous run still going is
// skipped. Intervals are rounded to whole seconds by the scheduler.
func Subscribe(interval time.Duration, name string, fn Func) (*Subscription, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("poll %s: interval must be positive", name)
	}
	if fn == nil {
		return nil, fmt.Errorf("poll %s: nil func", name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger := cron.PrintfLogger(logrus.StandardLogger())
	s := &Subscription{
		name:   name,
		cron:   cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		ctx:    ctx,
		cancel: cancel,
	}

	var running sync.Mutex
	job := cron.FuncJob(func() {
		if !running.TryLock() {
			return
		}
		defer running.Unlock()
		s.run(fn)
	})
	s.cron.Schedule(cron.Every(interval), job)

	s.first.Add(1)
	go func() {
		defer s.first.Done()
		job.Run()
	}()
	s.cron.Start()

	logrus.WithFields(logrus.Fields{
		"poller":   name,
		"interval": interval.String(),
	}).Info("Poller started")
	return s, nil
}

func (s *Subscription) run(fn Func) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
		logrus.WithFields(logrus.Fields{
			"poller": s.name,
		}).WithError(err).Warn("Poll failed")
		return
	}
	logrus.WithFields(logrus.Fields{
		"poller":   s.name,
		"duration": time.Since(start).String(),
	}).Debug("Poll completed")
}

// Stop cancels the job context and waits for a running invocation to
// return. Calling Stop more than once is safe.
func (s *Subscription) Stop() {
	s.once.Do(func() {
		s.cancel()
		<-s.cron.Stop().Done()
		s.first.Wait()
		logrus.WithField("poller", s.name).Info("Poller stopped")
	})
}
