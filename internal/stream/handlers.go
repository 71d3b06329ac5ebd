package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const keepAliveInterval = 30 * time.Second

// Authenticator resolves the authenticated user from a request.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Register wires up stream endpoints on the given Echo instance.
func Register(e *echo.Echo, broker *Broker, auth Authenticator) {
	e.GET("/stream/notifications", streamNotifications(broker, auth))
	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// streamNotifications holds an SSE connection open and forwards every
// notification for the user. EventSource cannot set headers, so the
// token may also arrive as a query parameter.
func streamNotifications(broker *Broker, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ctx := c.Request().Context()
		ch := broker.Subscribe(ctx, userID)
		// The request context is already cancelled by the time the
		// client disconnects; presence cleanup needs its own.
		defer broker.Unsubscribe(context.Background(), userID, ch)

		if _, err := c.Response().Write([]byte(": connected\n\n")); err != nil {
			return err
		}
		flusher.Flush()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-keepAlive.C:
				if _, err := c.Response().Write([]byte(": keep-alive\n\n")); err != nil {
					return err
				}
				flusher.Flush()
			case data := <-ch:
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return err
				}
				if _, err := c.Response().Write(data); err != nil {
					return err
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return err
				}
				flusher.Flush()
			}
		}
	}
}
