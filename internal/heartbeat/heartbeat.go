// Package heartbeat periodically pushes the diagnostic test message so a
// silently broken bridge is noticed before a real notification is lost.
package heartbeat

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"qqbridge/internal/config"
	"qqbridge/internal/gateway"
	"qqbridge/pkg/logx"
)

const defaultSchedule = "0 9 * * *"

type Service struct {
	log      logx.Logger
	gateway  *gateway.Gateway
	schedule string

	cron *cron.Cron
}

func New(cfg config.HeartbeatConfig, g *gateway.Gateway, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}
	return &Service{log: log, gateway: g, schedule: schedule}
}

func (s *Service) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, s.beat)
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.log.Info("heartbeat scheduled", logx.String("schedule", s.schedule))
	return nil
}

// Stop halts scheduling and waits for a running beat to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

func (s *Service) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	res := s.gateway.TestSend(ctx)
	if res.Success {
		s.log.Info("heartbeat delivered")
		return
	}
	s.log.Warn("heartbeat failed", logx.String("reason", res.Message))
}
