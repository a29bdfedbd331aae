// Package retention keeps version history bounded: autosave appends a
// snapshot every time a buffer settles, so long-lived rooms would grow
// without a periodic prune.
package retention

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codecollab/server/internal/db"
)

type Config struct {
	Interval    time.Duration
	MaxVersions int
}

func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Minute,
		MaxVersions: 100,
	}
}

type Service struct {
	store  *db.Database
	config Config
	log    *zap.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
}

func New(store *db.Database, config Config, log *zap.Logger) *Service {
	return &Service{
		store:  store,
		config: config,
		log:    log,
		stop:   make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.log.Info("retention service started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("max_versions", s.config.MaxVersions))
}

func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.PruneAll()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.PruneAll()
		}
	}
}

// PruneAll trims every room's history down to the configured bound.
func (s *Service) PruneAll() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rooms, err := s.store.ListRoomIDs(ctx)
	if err != nil {
		s.log.Error("retention: list rooms", zap.Error(err))
		return
	}

	pruned := 0
	for _, roomID := range rooms {
		count, err := s.store.CountVersions(ctx, roomID)
		if err != nil || count <= s.config.MaxVersions {
			continue
		}
		if err := s.store.PruneVersions(ctx, roomID, s.config.MaxVersions); err != nil {
			s.log.Error("retention: prune", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		pruned++
	}

	if pruned > 0 {
		s.log.Info("retention: pruned version history", zap.Int("rooms", pruned))
	}
}
