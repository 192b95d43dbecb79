package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"bongobot/internal/eventbus"
	logx "bongobot/pkg/logx"
)

// Event types published on the bus.
const (
	EventRunFailed  = "schedule.failed"
	EventRunSkipped = "schedule.skipped"
)

var ErrNameRequired = errors.New("schedule name required")

// Job is the unit of scheduled work. ctx carries the per-run timeout.
type Job func(ctx context.Context) error

type Config struct {
	// Location evaluates cron expressions; nil means time.Local.
	Location *time.Location
	// DefaultTimeout bounds runs registered with a zero timeout.
	DefaultTimeout time.Duration
}

type scheduleDef struct {
	name    string
	spec    string // cron expression or "@every <d>"
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	// base is the parent context of every run; canceled by Stop.
	base       context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

// ScheduleInfo is a point-in-time view of one registered schedule.
type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Running bool
	Runs    uint64
	Skipped uint64
	Failed  uint64
}
