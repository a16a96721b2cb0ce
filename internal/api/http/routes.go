package httpapi

import (
	"bufio"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/warnlevel-sync/internal/notify"
	"github.com/i474232898/warnlevel-sync/internal/warnlevel"
)

var validate = validator.New()

const eventKeepAlive = 30 * time.Second

// RegisterRoutes wires the HTTP handlers into the Fiber app. broker may be
// nil, in which case the event stream is disabled.
func RegisterRoutes(app *fiber.App, service *warnlevel.Service, broker *notify.Broker) {
	v1 := app.Group("/api/v1")

	v1.Get("/regions", func(c *fiber.Ctx) error {
		regions := service.Regions()
		out := make([]regionResponse, 0, len(regions))
		for _, r := range regions {
			out = append(out, toRegionResponse(r))
		}
		return c.JSON(fiber.Map{
			"count":   len(out),
			"regions": out,
		})
	})

	v1.Get("/regions/:gkz", func(c *fiber.Ctx) error {
		q, err := parseKeyParam(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		record, ok := service.Lookup(q.GKZ)
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no region with this gkz in the current snapshot")
		}
		return c.JSON(toRegionResponse(record))
	})

	// Always answers: a missing municipality is level 0.
	v1.Get("/level/:gkz", func(c *fiber.Ctx) error {
		q, err := parseKeyParam(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		level := service.LevelFor(q.GKZ)
		return c.JSON(fiber.Map{
			"gkz":       q.GKZ,
			"warnstufe": level,
			"level":     level.Ordinal(),
			"color":     level.Color(),
		})
	})

	v1.Get("/status", func(c *fiber.Ctx) error {
		st := service.Status(time.Now())
		return c.JSON(fiber.Map{
			"datasetAsOf":      nullableTime(st.DatasetAsOf),
			"fetchedAt":        nullableTime(st.FetchedAt),
			"count":            st.Count,
			"stale":            st.Stale,
			"thresholdSeconds": int64(st.Threshold / time.Second),
		})
	})

	v1.Post("/sync", func(c *fiber.Ctx) error {
		outcome, err := service.SyncIfStale(c.UserContext(), time.Now())
		if err != nil {
			code, category := syncErrorStatus(err)
			return c.Status(code).JSON(fiber.Map{
				"error":    true,
				"outcome":  outcome,
				"category": category,
				"message":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"outcome": outcome,
			"status":  service.Status(time.Now()),
		})
	})

	v1.Get("/events", func(c *fiber.Ctx) error {
		if broker == nil {
			return fiber.NewError(fiber.StatusNotImplemented, "event stream is not enabled")
		}

		events, unsubscribe := broker.Subscribe()

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer unsubscribe()

			ticker := time.NewTicker(eventKeepAlive)
			defer ticker.Stop()

			fmt.Fprint(w, ": connected\n\n")
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case ev, ok := <-events:
					if !ok {
						return
					}
					data, err := json.Marshal(ev)
					if err != nil {
						log.Error().Err(err).Msg("events: encode failed")
						continue
					}
					fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
				case <-ticker.C:
					fmt.Fprint(w, ": keepalive\n\n")
				}
				// A flush error means the client went away.
				if err := w.Flush(); err != nil {
					return
				}
			}
		})
		return nil
	})
}

// regionResponse is the JSON view of a record.
type regionResponse struct {
	GKZ       string          `json:"gkz"`
	Name      string          `json:"name"`
	Warnstufe warnlevel.Level `json:"warnstufe"`
	Level     int             `json:"level"`
	Color     warnlevel.Color `json:"color"`
}

func toRegionResponse(r warnlevel.Record) regionResponse {
	return regionResponse{
		GKZ:       r.Key,
		Name:      r.Name,
		Warnstufe: r.Level,
		Level:     r.Level.Ordinal(),
		Color:     r.Level.Color(),
	}
}

// keyParam holds the municipality key path parameter.
type keyParam struct {
	GKZ string `validate:"required,number,max=10"`
}

func parseKeyParam(c *fiber.Ctx) (keyParam, error) {
	q := keyParam{GKZ: c.Params("gkz")}
	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

// syncErrorStatus maps a sync failure onto an HTTP status: upstream problems
// are a bad gateway, storage problems are ours.
func syncErrorStatus(err error) (int, string) {
	var serr *warnlevel.SyncError
	if !errors.As(err, &serr) {
		return fiber.StatusInternalServerError, "unknown"
	}
	if serr.Stage == warnlevel.StageStore {
		return fiber.StatusInternalServerError, serr.Category()
	}
	return fiber.StatusBadGateway, serr.Category()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
