package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidSpec reports whether spec is accepted by Every.
func ValidSpec(spec string) error {
	_, err := specParser.Parse(strings.TrimSpace(spec))
	return err
}

// Every registers fn under a cron spec ("@every 5m", "0 */10 * * * *", ...).
// Overlapping runs of the same trigger are skipped.
func (s *Service) Every(name, spec string, fn func(ctx context.Context)) error {
	name = strings.TrimSpace(name)
	spec = strings.TrimSpace(spec)
	if name == "" || fn == nil {
		return errors.New("name and fn required")
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	for i, p := range s.periodic {
		if p.name == name {
			if s.c != nil {
				s.c.Remove(p.entryID)
			}
			s.periodic = append(s.periodic[:i], s.periodic[i+1:]...)
			break
		}
	}
	p := &periodic{name: name, spec: spec, fn: fn}
	s.periodic = append(s.periodic, p)
	if s.c != nil {
		return s.addCronLocked(p)
	}
	return nil
}

func (s *Service) addCronLocked(p *periodic) error {
	job := cron.FuncJob(func() {
		start := time.Now()
		p.fn(s.ctx)
		s.log.Debug("periodic done", logx.String("name", p.name), logx.Duration("took", time.Since(start)))
	})
	id, err := s.c.AddJob(p.spec, job)
	if err != nil {
		return err
	}
	p.entryID = id
	return nil
}

// Start begins cron triggering. One-shot timers run regardless.
func (s *Service) Start(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || s.stopped {
		return
	}
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, p := range s.periodic {
		if err := s.addCronLocked(p); err != nil {
			s.log.Warn("periodic not registered", logx.String("name", p.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("periodic", len(s.periodic)), logx.Int("pending", len(s.timers)))
}

// Stop halts cron, drops every pending timer and waits for in-flight
// callbacks until ctx is done. Schedule returns ErrStopped afterwards.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	c := s.c
	s.c = nil
	dropped := len(s.timers)
	for k, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, k)
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for in-flight jobs")
	}
	s.cancel()
	s.log.Info("service stopped", logx.Int("dropped", dropped), logx.Duration("took", time.Since(start)))
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
