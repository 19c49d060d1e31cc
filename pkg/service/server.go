package service

import (
	stderrors "errors"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v3"
	"github.com/theapemachine/mnemo/pkg/errors"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/persist"
)

/*
MemoryServer exposes the memory manager over HTTP. Entries go in
through POST /memory, come back out through POST /recall, and the
maintenance operations (consolidate, decay, snapshot) are exposed so
an operator or scheduler can drive them remotely.
*/
type MemoryServer struct {
	app       *fiber.App
	manager   *memory.Manager
	snapshots *persist.SnapshotStore
	addr      string
}

type MemoryServerOption func(*MemoryServer)

func NewMemoryServer(manager *memory.Manager, options ...MemoryServerOption) *MemoryServer {
	srv := &MemoryServer{
		app: fiber.New(fiber.Config{
			AppName:      "Mnemo",
			ServerHeader: "Mnemo-Server",
		}),
		manager: manager,
		addr:    ":3211",
	}

	for _, option := range options {
		option(srv)
	}

	srv.routes()
	return srv
}

func (srv *MemoryServer) Run() error {
	log.Info("memory server listening", "addr", srv.addr)
	return srv.app.Listen(srv.addr)
}

// App returns the underlying fiber app, used by tests to issue
// requests without a listener.
func (srv *MemoryServer) App() *fiber.App {
	return srv.app
}

func (srv *MemoryServer) Shutdown() error {
	return srv.app.Shutdown()
}

type storeRequest struct {
	ID         string           `json:"id,omitempty"`
	Type       memory.Type      `json:"memory_type"`
	Content    string           `json:"content"`
	Importance *float64         `json:"importance_score,omitempty"`
	Embedding  []float32        `json:"embedding,omitempty"`
	Metadata   *memory.Metadata `json:"metadata,omitempty"`
}

type recallRequest struct {
	Query   string                `json:"query"`
	Context *memory.RecallContext `json:"context,omitempty"`
}

func (srv *MemoryServer) routes() {
	srv.app.Get("/health", func(ctx fiber.Ctx) error {
		return ctx.SendString("OK")
	})

	srv.app.Post("/memory", func(ctx fiber.Ctx) error {
		var req storeRequest

		if err := ctx.Bind().Body(&req); err != nil {
			return ctx.Status(fiber.StatusBadRequest).SendString("invalid entry: " + err.Error())
		}

		entry := memory.NewEntry(req.Type, req.Content)

		if req.ID != "" {
			entry.WithID(req.ID)
		}

		if req.Importance != nil {
			entry.WithImportance(*req.Importance)
		}

		if req.Embedding != nil {
			entry.WithEmbedding(req.Embedding)
		}

		if req.Metadata != nil {
			entry.WithMetadata(*req.Metadata)
		}

		id, err := srv.manager.Store(ctx, entry)
		if err != nil {
			return srv.fail(ctx, err)
		}

		return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
	})

	srv.app.Post("/recall", func(ctx fiber.Ctx) error {
		var req recallRequest

		if err := ctx.Bind().Body(&req); err != nil {
			return ctx.Status(fiber.StatusBadRequest).SendString("invalid query: " + err.Error())
		}

		recall := memory.NewRecallContext()
		if req.Context != nil {
			recall = *req.Context
		}

		results, err := srv.manager.Recall(ctx, req.Query, recall)
		if err != nil {
			return srv.fail(ctx, err)
		}

		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"count":   len(results),
			"entries": results,
		})
	})

	srv.app.Get("/memory/:id", func(ctx fiber.Ctx) error {
		var entry *memory.Entry

		if ctx.Query("touch") == "true" {
			entry = srv.manager.GetAndTouch(ctx.Params("id"))
		} else {
			entry = srv.manager.Get(ctx.Params("id"))
		}

		if entry == nil {
			return ctx.Status(fiber.StatusNotFound).SendString("no such entry")
		}

		return ctx.Status(fiber.StatusOK).JSON(entry)
	})

	srv.app.Delete("/memory/:id", func(ctx fiber.Ctx) error {
		if !srv.manager.Delete(ctx.Params("id")) {
			return ctx.Status(fiber.StatusNotFound).SendString("no such entry")
		}

		return ctx.SendStatus(fiber.StatusNoContent)
	})

	srv.app.Get("/stats", func(ctx fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(srv.manager.Stats())
	})

	srv.app.Post("/consolidate", func(ctx fiber.Ctx) error {
		report, err := srv.manager.Consolidate(ctx)
		if err != nil {
			return srv.fail(ctx, err)
		}

		return ctx.Status(fiber.StatusOK).JSON(report)
	})

	srv.app.Post("/decay", func(ctx fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(srv.manager.ApplyDecay())
	})

	srv.app.Get("/sessions", func(ctx fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(srv.manager.Sessions())
	})

	srv.app.Get("/session/:id/entries", func(ctx fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(srv.manager.SessionEntries(ctx.Params("id")))
	})

	srv.app.Delete("/session/:id", func(ctx fiber.Ctx) error {
		removed := srv.manager.ClearSession(ctx.Params("id"))
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"removed": removed})
	})

	srv.app.Post("/snapshot/:name", func(ctx fiber.Ctx) error {
		if srv.snapshots == nil {
			return ctx.Status(fiber.StatusNotImplemented).SendString("no snapshot store configured")
		}

		key, err := srv.snapshots.Save(ctx, ctx.Params("name"), srv.manager.Export())
		if err != nil {
			return srv.fail(ctx, err)
		}

		return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"key": key})
	})

	srv.app.Post("/restore/:name", func(ctx fiber.Ctx) error {
		if srv.snapshots == nil {
			return ctx.Status(fiber.StatusNotImplemented).SendString("no snapshot store configured")
		}

		entries, err := srv.snapshots.Load(ctx, ctx.Params("name"))
		if err != nil {
			return srv.fail(ctx, err)
		}

		count, err := srv.manager.Import(ctx, entries)
		if err != nil {
			return srv.fail(ctx, err)
		}

		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"imported": count})
	})
}

func (srv *MemoryServer) fail(ctx fiber.Ctx, err error) error {
	log.Error("request failed", "path", ctx.Path(), "error", err)
	return ctx.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
}

func statusFor(err error) int {
	var memErr *errors.MemoryError

	if !stderrors.As(err, &memErr) {
		return fiber.StatusInternalServerError
	}

	switch memErr.Kind {
	case errors.KindInvalidQuery, errors.KindInvalidMemoryType, errors.KindConfig, errors.KindSerialization, errors.KindVector:
		return fiber.StatusBadRequest
	case errors.KindNotFound:
		return fiber.StatusNotFound
	case errors.KindBackendUnavailable, errors.KindTimeout:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func WithAddr(addr string) MemoryServerOption {
	return func(srv *MemoryServer) {
		srv.addr = addr
	}
}

func WithSnapshots(snapshots *persist.SnapshotStore) MemoryServerOption {
	return func(srv *MemoryServer) {
		srv.snapshots = snapshots
	}
}
