package controllers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/billingsync/app/repository"
)

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// paramID parses a positive numeric route parameter.
func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(c.Params(name)), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// queryUint parses an optional numeric query parameter. Empty yields 0.
func queryUint(c *fiber.Ctx, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

func pageFromQuery(c *fiber.Ctx) repository.Page {
	return repository.Page{
		Page:    c.QueryInt("page", 1),
		PerPage: c.QueryInt("per_page", repository.DefaultPerPage),
	}.Normalize()
}

func listResponse(c *fiber.Ctx, data interface{}, total int64, page repository.Page) error {
	return c.JSON(fiber.Map{
		"data":     data,
		"total":    total,
		"page":     page.Page,
		"per_page": page.PerPage,
	})
}
