package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"studychat/internal/realtime"
)

// Server defines fields used in HTTP processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	handler       *handler
	afterShutdown []func()
}

// NewServer wires the REST surface and the websocket endpoint onto one
// http.Server. The hub is shared between both: the socket path drives it via
// sessions, the REST send endpoint via its broadcast primitive.
func NewServer(logger *zap.SugaredLogger, store ChatStore, hub *realtime.Hub, opts ...Option) (*Server, error) {
	h := &handler{
		logger:      logger,
		store:       store,
		hub:         hub,
		broadcaster: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		parsers: parsers{
			createUserPool:  fastjson.ParserPool{},
			sendMessagePool: fastjson.ParserPool{},
		},
	}

	r := chi.NewRouter()
	r.Use(logRequests(logger.Desugar()))

	// chi allows one wildcard name per segment, so the second path element is
	// {id} throughout: a peer user id on the conversation route, a chat id on
	// the message routes
	r.With(requireJSON).Post("/users", h.createUser)
	r.Get("/chats", h.chatsByUser)
	r.Get("/chats/{id}", h.getOrCreateChat)
	r.Get("/chats/{id}/messages", h.messagesByChat)
	r.With(requireJSON).Post("/chats/{id}/messages", h.sendMessage)
	r.Patch("/chats/{id}/messages/{messageID}/read", h.markMessageRead)
	r.Get("/ws", h.serveWS)

	cfg := &config{
		httpServer: &http.Server{
			Addr:    "0.0.0.0:9000",
			Handler: r,
		},
	}

	for _, opt := range opts {
		opt.apply(cfg)
	}

	return &Server{
		logger:        logger,
		httpServer:    cfg.httpServer,
		handler:       h,
		afterShutdown: cfg.afterShutdown,
	}, nil
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		s.logger.Info("Shutting down HTTP server")

		if err := s.httpServer.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("srv.Shutdown: %v", err)
		}
		s.logger.Info("HTTP server is stopped")

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	for _, f := range s.afterShutdown {
		f()
	}

	return nil
}
