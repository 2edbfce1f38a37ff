package server

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"gohaven/internal/auth"
	"gohaven/internal/database"
	"gohaven/internal/state"
)

type Server struct {
	port       int
	db         database.Service
	store      *state.Store
	hub        *Hub
	dispatcher *Dispatcher
}

func NewServer() *http.Server {
	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		panic(err)
	}

	var db database.Service
	if os.Getenv("DB_URL") != "" {
		db = database.New()
	} else {
		db = database.NewMemory()
	}

	store, err := state.New(db)
	if err != nil {
		log.Fatalf("Error loading server state: %v", err)
	}

	hub := NewHub()
	srv := &Server{
		port:       port,
		db:         db,
		store:      store,
		hub:        hub,
		dispatcher: NewDispatcher(store, hub, auth.New()),
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.port),
		Handler:      srv.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		TLSConfig:    loadTLS(),
	}

	return server
}

// loadTLS reads the certificate pair named by TLS_CERT and TLS_KEY. With
// neither set the server runs plain HTTP.
func loadTLS() *tls.Config {
	certFile, keyFile := os.Getenv("TLS_CERT"), os.Getenv("TLS_KEY")
	if certFile == "" && keyFile == "" {
		return nil
	}

	serverTLSCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		log.Fatalf("Error loading certificate and key file: %v", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{serverTLSCert},
	}
}
