package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ghostzpy/truco-server/internal/leaderboard/repo"
	"github.com/ghostzpy/truco-server/pkg/cache"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	cacheNamespace = "leaderboard"
)

var ErrInvalidLimit = errors.New("limit must be between 1 and 100")

// Entry is one ranked player. Equal points share a rank.
type Entry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Points   int64  `json:"points"`
}

// Reader loads the top accounts by points.
type Reader interface {
	Top(ctx context.Context, limit int) ([]repo.Row, error)
}

// Cacher stores rendered leaderboards for a short time.
type Cacher interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error
}

type Config struct {
	CacheTTL time.Duration
}

// ConfigFromEnv reads LEADERBOARD_CACHE_TTL (default 30s, 0 disables).
func ConfigFromEnv() Config {
	cfg := Config{CacheTTL: 30 * time.Second}
	if d, err := time.ParseDuration(os.Getenv("LEADERBOARD_CACHE_TTL")); err == nil && d >= 0 {
		cfg.CacheTTL = d
	}
	return cfg
}

type Service struct {
	repo   Reader
	cache  Cacher
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewService builds the service; c may be nil to disable caching.
func NewService(r Reader, c Cacher, cfg Config, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: r, cache: c, ttl: cfg.CacheTTL, logger: logger}
}

// Top returns the best limit players. Cache failures fall back to the database.
func (s *Service) Top(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 || limit > MaxLimit {
		return nil, ErrInvalidLimit
	}
	key := strconv.Itoa(limit)
	if s.cache != nil && s.ttl > 0 {
		if raw, err := s.cache.Get(ctx, cacheNamespace, key); err == nil {
			var out []Entry
			if err := json.Unmarshal([]byte(raw), &out); err == nil {
				return out, nil
			}
		} else if !cache.IsMiss(err) {
			s.logger.Warnw("leaderboard cache read failed", "err", err)
		}
	}

	rows, err := s.repo.Top(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := rank(rows)

	if s.cache != nil && s.ttl > 0 {
		if raw, err := json.Marshal(out); err == nil {
			if err := s.cache.Set(ctx, cacheNamespace, key, string(raw), s.ttl); err != nil {
				s.logger.Warnw("leaderboard cache write failed", "err", err)
			}
		}
	}
	return out, nil
}

// rank assigns competition ranks (1, 2, 2, 4) to rows sorted by points.
func rank(rows []repo.Row) []Entry {
	out := make([]Entry, len(rows))
	for i, r := range rows {
		rk := i + 1
		if i > 0 && r.Points == rows[i-1].Points {
			rk = out[i-1].Rank
		}
		out[i] = Entry{Rank: rk, Username: r.Username, Name: r.Name, Points: r.Points}
	}
	return out
}
