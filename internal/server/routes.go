package server

import (
	"math/rand"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.HandlerWebsocket)

	return e
}

func (s *Server) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Health())
}

// WEBSOCKET
func (s *Server) HandlerWebsocket(c echo.Context) error {
	upgrader := NewWebsocketUpgrader(s.dispatcher)

	so, err := upgrader.Upgrade(c.Response(), c.Request())
	if err != nil {
		return err
	}

	socket := newSocket(so, rand.Int63())
	so.Session().Store(sessionSocket, socket)
	s.dispatcher.Connect(socket)

	go func() {
		socket.ReadLoop()
	}()
	go socket.writePump()

	return nil
}
