package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"hostelgate/internal/middleware"
	"hostelgate/internal/models"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// Pagination holds parsed limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const maxPaginationLimit = 100

// parsePagination extracts limit and offset query parameters with the given default limit.
func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}

	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	return Pagination{Limit: limit, Offset: offset}
}

// parseID extracts the :id route parameter as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func parseID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid ID"))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// expectedVersion prefers the body's version and falls back to If-Match.
// Both absent means "whatever version is current".
func expectedVersion(c *fiber.Ctx, fromBody *int64) (*int64, error) {
	if fromBody != nil {
		return fromBody, nil
	}
	raw := strings.TrimSpace(c.Get(fiber.HeaderIfMatch))
	if raw == "" || raw == "*" {
		return nil, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, models.NewValidationError("If-Match must carry a request version")
	}
	return &v, nil
}

// actor returns the caller identity stored by AuthRequired.
func actor(c *fiber.Ctx) models.Actor {
	a, _ := middleware.ActorFrom(c)
	return a
}

// respondError maps err to its status and logs server-side failures.
func respondError(c *fiber.Ctx, err error) error {
	status := models.StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed", "path", c.Path(), "error", err)
		var appErr *models.AppError
		if !errors.As(err, &appErr) {
			err = models.NewInternalError(err)
		}
	}
	return models.RespondWithError(c, status, err)
}

func setETag(c *fiber.Ctx, req *models.Request) {
	c.Set(fiber.HeaderETag, `"`+strconv.FormatInt(req.Version, 10)+`"`)
}

// parseDate accepts YYYY-MM-DD (local midnight) or an RFC 3339 timestamp.
func parseDate(field, raw string, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	return nil, models.NewValidationError(field + " must be YYYY-MM-DD")
}

var localDateTimeLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05", "2006-01-02 15:04"}

// parseDateTime accepts RFC 3339 or a local date-time without offset. On is
// used for bare HH:MM values, which are placed on that day.
func parseDateTime(field, raw string, on *time.Time, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	for _, layout := range localDateTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return &t, nil
		}
	}
	if on != nil {
		if hm, err := time.Parse("15:04", raw); err == nil {
			d := on.In(loc)
			t := time.Date(d.Year(), d.Month(), d.Day(), hm.Hour(), hm.Minute(), 0, 0, loc)
			return &t, nil
		}
	}
	return nil, models.NewValidationError(field + " must be an RFC 3339 or YYYY-MM-DDTHH:MM time")
}
