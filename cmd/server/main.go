package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"echat/internal/server"
	"echat/internal/store"
)

func main() {
	fmt.Println("Starting E-Chat server...")

	cfg, err := server.NewConfigFromEnv()
	if err != nil {
		log.Fatalf("Loading configuration failed: %v", err)
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Opening database failed: %v", err)
	}
	defer st.Close()

	srv := server.New(cfg, st)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-stop:
		log.Printf("Received %s, shutting down", sig)
		if err := srv.Shutdown(); err != nil {
			log.Printf("Shutdown finished with error: %v", err)
		}
	}
}
