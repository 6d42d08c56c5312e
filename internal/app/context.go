package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/api"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/bugzilla"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/config"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/db"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/engine"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/migrate"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/packets"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/repo"
)

type Options struct {
	DatabasePath string
	Config       *config.Config
	Logger       *slog.Logger
	// overrides the wall clock in tests
	Now     func() time.Time
	Fetcher bugzilla.Fetcher
}

// Context is a loaded task model backed by its database.
type Context struct {
	API  *api.API
	Repo *repo.Repo
	DB   *sqlx.DB
}

// Open migrates the database at opts.DatabasePath, loads everything it
// holds and seeds the configured time categories when it has none.
func Open(ctx context.Context, opts Options) (*Context, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	conn, err := db.Open(opts.DatabasePath)
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", opts.DatabasePath, err)
	}
	r := repo.New(conn)
	state, err := r.Load(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load %s: %w", opts.DatabasePath, err)
	}

	tasks := engine.New()
	if opts.Now != nil {
		tasks.Now = opts.Now
	}
	a := api.New(api.Options{
		Tasks:          tasks,
		Database:       r,
		Fetcher:        opts.Fetcher,
		Logger:         log,
		RefreshTimeout: cfg.Bugzilla.RequestTimeout,
	})
	if err := a.Load(state); err != nil {
		conn.Close()
		return nil, fmt.Errorf("load %s: %w", opts.DatabasePath, err)
	}
	log.Info("database loaded", "path", opts.DatabasePath, "schema", version,
		"tasks", len(state.Tasks.Tasks), "categories", len(state.Tasks.Categories), "bugzilla", len(state.Bugzilla))

	c := &Context{API: a, Repo: r, DB: conn}
	if len(state.Tasks.Categories) == 0 && len(cfg.TimeCategories) > 0 {
		added, err := ImportCategories(ctx, a, cfg.TimeCategories)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("seed time categories: %w", err)
		}
		log.Info("seeded time categories", "added", added)
	}
	return c, nil
}

func (c *Context) Close() error {
	return c.DB.Close()
}

// ImportCategories adds the seeds through the same requests a client would
// send. Categories whose name already exists, compared without case, only
// gain the codes they lack. It returns the number of categories and codes
// added.
func ImportCategories(ctx context.Context, a *api.API, seeds []config.CategorySeed) (int, error) {
	if err := config.ValidateCategories(seeds); err != nil {
		return 0, err
	}
	added := 0
	var requestID domain.RequestID
	send := func(m packets.TimeEntryModifyPacket) ([]domain.TimeCategory, error) {
		requestID++
		m.RequestID = requestID
		out := a.Process(ctx, m)
		if len(out) == 0 {
			return nil, fmt.Errorf("no response to %s", m)
		}
		if f, ok := out[0].(packets.FailureResponse); ok {
			return nil, fmt.Errorf("%s", f.Message)
		}
		added++
		for _, msg := range out {
			if data, ok := msg.(packets.TimeEntryDataPacket); ok {
				return data.Categories, nil
			}
		}
		return nil, nil
	}

	for _, seed := range seeds {
		name := strings.TrimSpace(seed.Name)
		category, found := findCategory(a.TimeCategories(), name)
		if !found {
			categories, err := send(packets.TimeEntryModifyPacket{Action: packets.AddTimeCategory, Name: name, Label: seed.Label})
			if err != nil {
				return added, err
			}
			if category, found = findCategory(categories, name); !found {
				return added, fmt.Errorf("time category %s missing after add", name)
			}
		}
		for _, code := range seed.Codes {
			code = strings.TrimSpace(code)
			if hasCode(category, code) {
				continue
			}
			if _, err := send(packets.TimeEntryModifyPacket{Action: packets.AddTimeCode, CategoryID: category.ID, Name: code}); err != nil {
				return added, err
			}
		}
	}
	return added, nil
}

func findCategory(categories []domain.TimeCategory, name string) (domain.TimeCategory, bool) {
	for _, c := range categories {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return domain.TimeCategory{}, false
}

func hasCode(c domain.TimeCategory, name string) bool {
	for _, code := range c.Codes {
		if strings.EqualFold(code.Name, name) {
			return true
		}
	}
	return false
}
