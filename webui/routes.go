package webui

import (
	"crypto/subtle"
	"errors"

	"github.com/dave-gray101/v2keyauth"
	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/google/uuid"
)

func (app *App) registerRoutes(webapp *fiber.App) error {
	if len(app.config.ApiKeys) > 0 {
		kaConfig, err := GetKeyAuthConfig(app.config.ApiKeys)
		if err != nil {
			return err
		}
		webapp.Use(v2keyauth.New(*kaConfig))
	}

	webapp.Get("/api/rooms", app.ListRooms())
	webapp.Put("/api/rooms/tags", app.UpdateRoomTags())
	webapp.Post("/api/rooms/tag", app.AddRoomTag())
	webapp.Delete("/api/rooms/tag", app.RemoveRoomTag())

	webapp.Get("/api/behaviors", app.ListBehaviors())
	webapp.Get("/api/dispatches", app.ListDispatches())
	webapp.Post("/api/tick", app.RunTick())
	if app.config.Events != nil {
		webapp.Get("/api/events", func(c *fiber.Ctx) error {
			return app.config.Events.Handle(c, uuid.New().String())
		})
	}

	webapp.Get("/api/meta/connectors", app.GetConnectorsMeta())
	return nil
}

func GetKeyAuthConfig(apiKeys []string) (*v2keyauth.Config, error) {
	customLookup, err := v2keyauth.MultipleKeySourceLookup([]string{"header:Authorization", "header:x-api-key", "cookie:token"}, keyauth.ConfigDefault.AuthScheme)
	if err != nil {
		return nil, err
	}

	return &v2keyauth.Config{
		CustomKeyLookup: customLookup,
		Next:            func(c *fiber.Ctx) bool { return false },
		Validator:       getApiKeyValidationFunction(apiKeys),
		ErrorHandler:    getApiKeyErrorHandler(),
		AuthScheme:      "Bearer",
	}, nil
}

func getApiKeyErrorHandler() fiber.ErrorHandler {
	return func(ctx *fiber.Ctx, err error) error {
		if errors.Is(err, v2keyauth.ErrMissingOrMalformedAPIKey) {
			ctx.Set("WWW-Authenticate", "Bearer")
			return errorJSONMessage(ctx, fiber.StatusUnauthorized, "missing or invalid API key")
		}
		return err
	}
}

func getApiKeyValidationFunction(apiKeys []string) func(*fiber.Ctx, string) (bool, error) {
	return func(ctx *fiber.Ctx, apiKey string) (bool, error) {
		for _, validKey := range apiKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
				return true, nil
			}
		}
		return false, v2keyauth.ErrMissingOrMalformedAPIKey
	}
}
