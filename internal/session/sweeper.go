package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"session-service/internal/config"
	"session-service/internal/models"
	"session-service/internal/util"
)

// SweepSessionStore is the slice of the session repository the sweeper uses.
type SweepSessionStore interface {
	ListActiveIdleSince(ctx context.Context, cutoff time.Time) ([]*models.Session, error)
	ListDeactivatedBefore(ctx context.Context, cutoff time.Time) ([]*models.Session, error)
	DeactivateSession(ctx context.Context, userID, sessionID, deactivatedBy string) error
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

type SweepUserStore interface {
	ListUnverifiedCreatedBefore(ctx context.Context, cutoff time.Time) ([]*models.User, error)
	DeleteUser(ctx context.Context, user *models.User) error
}

// Sweeper is the background retention pass. It flips hard-expired sessions
// inactive, hard-deletes sessions deactivated longer ago than the retention
// window, and removes registrations that never verified. Validation does
// not depend on it: expiry is enforced on read, the sweep only reconciles
// stored state and reclaims space.
type Sweeper struct {
	sessions SweepSessionStore
	users    SweepUserStore
	cfg      config.SessionConfig
	now      func() time.Time
	stop     chan struct{}
	done     chan struct{}
}

func NewSweeper(sessions SweepSessionStore, users SweepUserStore, cfg config.SessionConfig) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		users:    users,
		cfg:      cfg,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	util.Info("Retention sweeper started",
		zap.Duration("interval", s.cfg.SweepInterval),
		zap.Duration("retention", s.cfg.Retention))

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			s.Sweep(ctx)
			cancel()
		case <-s.stop:
			util.Info("Retention sweeper stopped")
			return
		}
	}
}

// Sweep runs one full pass. Per-record failures are logged and skipped so
// one bad row cannot stall the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.now().UTC()

	s.expireIdleSessions(ctx, now)
	s.purgeDeactivatedSessions(ctx, now)
	s.purgeUnverifiedUsers(ctx, now)
}

func (s *Sweeper) expireIdleSessions(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.cfg.HardWindow)

	expired, err := s.sessions.ListActiveIdleSince(ctx, cutoff)
	if err != nil {
		util.Error("Sweep failed to list expired sessions", zap.Error(err))
		return
	}

	flipped := 0
	for _, session := range expired {
		if err := s.sessions.DeactivateSession(ctx, session.UserID, session.SessionID, models.DeactivatedByExpiry); err != nil {
			util.Error("Sweep failed to deactivate expired session",
				zap.String("session_id", session.SessionID),
				zap.Error(err))
			continue
		}
		flipped++
	}

	if flipped > 0 {
		util.Info("Expired sessions deactivated", zap.Int("count", flipped))
	}
}

func (s *Sweeper) purgeDeactivatedSessions(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.cfg.Retention)

	stale, err := s.sessions.ListDeactivatedBefore(ctx, cutoff)
	if err != nil {
		util.Error("Sweep failed to list sessions past retention", zap.Error(err))
		return
	}

	deleted := 0
	for _, session := range stale {
		if err := s.sessions.DeleteSession(ctx, session.UserID, session.SessionID); err != nil {
			util.Error("Sweep failed to delete session",
				zap.String("session_id", session.SessionID),
				zap.Error(err))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		util.Info("Sessions past retention deleted", zap.Int("count", deleted))
	}
}

func (s *Sweeper) purgeUnverifiedUsers(ctx context.Context, now time.Time) {
	cutoff := now.Add(-s.cfg.UnverifiedTTL)

	unverified, err := s.users.ListUnverifiedCreatedBefore(ctx, cutoff)
	if err != nil {
		util.Error("Sweep failed to list unverified users", zap.Error(err))
		return
	}

	deleted := 0
	for _, user := range unverified {
		if err := s.users.DeleteUser(ctx, user); err != nil {
			util.Error("Sweep failed to delete unverified user",
				zap.String("user_id", user.UserID),
				zap.Error(err))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		util.Info("Unverified registrations removed", zap.Int("count", deleted))
	}
}
