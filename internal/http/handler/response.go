package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/PowerTrack/internal/app/repository"
	"github.com/sifan077/PowerTrack/internal/app/service"
	"github.com/sifan077/PowerTrack/internal/app/session"
	"github.com/sifan077/PowerTrack/internal/http/util"
	"go.uber.org/zap"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func userContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func respondError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(errorBody{Error: msg})
}

// bindJSON decodes the request body into dst and validates its tags. On
// failure it writes the 400 response and returns false; the caller must stop.
func bindJSON(c *fiber.Ctx, dst any) bool {
	msg := ""
	if err := c.BodyParser(dst); err != nil {
		msg = "invalid request body"
	} else if err := validate.Struct(dst); err != nil {
		msg = validationMessage(err)
	}
	if msg == "" {
		return true
	}
	_ = respondError(c, fiber.StatusBadRequest, msg)
	return false
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fe.Field()+" must be one of: "+fe.Param())
		default:
			msgs = append(msgs, fe.Field()+" failed "+fe.Tag()+" validation")
		}
	}
	return strings.Join(msgs, "; ")
}

// respondServiceError maps service and repository errors onto HTTP statuses.
func respondServiceError(c *fiber.Ctx, log *zap.Logger, op string, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return respondError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrClickNotFound):
		return respondError(c, fiber.StatusNotFound, "click not found")
	case errors.Is(err, repository.ErrConversionNotFound):
		return respondError(c, fiber.StatusNotFound, "conversion not found")
	case errors.Is(err, session.ErrSessionNotFound):
		return respondError(c, fiber.StatusNotFound, "session not found")
	case errors.Is(err, service.ErrInvalidTransition):
		return respondError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, util.ErrInvalidSignature):
		return respondError(c, fiber.StatusUnauthorized, "invalid signature")
	}
	log.Error("failed to "+op, zap.Error(err))
	return respondError(c, fiber.StatusInternalServerError, "failed to "+op)
}
