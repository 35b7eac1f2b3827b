package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies.
func SetupRoutes(
	app *fiber.App,
	webhook *handlers.WebhookHandler,
	cancel *handlers.CancelHandler,
	runs *handlers.RunsHandler,
	health *handlers.HealthHandler,
) {
	app.Get("/health", health.HealthCheck)

	// The upstream event source posts notifications (and the validation
	// handshake) here.
	app.Post("/webhook", webhook.Handle)

	api := app.Group("/api/v1")
	{
		api.Get("/cancel", cancel.Cancel)
		api.Post("/cancel", cancel.Cancel)
		api.Get("/checkCancelled", cancel.CheckCancelled)
		api.Get("/runs", runs.List)
	}
}
