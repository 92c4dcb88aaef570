// Command reliudp-echo runs a minimal reliudp echo server: every message it
// receives from a connection is sent back to that same connection as a
// Reliable message.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netshard/reliudp"
	"github.com/netshard/reliudp/pkg/logger"
)

const (
	version = "1.0.0"
)

func main() {
	logger.Banner("reliudp echo server", version)

	addr := flag.String("addr", "0.0.0.0:9090", "address to listen on")
	maxClients := flag.Int("max-clients", 64, "maximum simultaneous connections")
	flag.Parse()

	logger.Info("Starting echo server on %s", *addr)
	logger.Info("Max connections: %d", *maxClients)

	srv, err := reliudp.StartServer(*addr, *maxClients)
	if err != nil {
		logger.Fatal("failed to start server: %v", err)
	}
	logger.Success("Listening on %s", srv.LocalAddr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	errChan := make(chan error, 1)
	go func() {
		errChan <- runEchoLoop(srv)
	}()

	select {
	case err := <-errChan:
		logger.Fatal("server error: %v", err)
	case sig := <-sigChan:
		logger.Warn("received signal: %v", sig)
		logger.Info("shutting down gracefully...")
		srv.Stop()
		logger.Success("server stopped")
		os.Exit(0)
	}
}

func runEchoLoop(srv *reliudp.Server) error {
	dest := make([]byte, 261120)
	for {
		ev, ok, err := srv.Read(dest, time.Second)
		if err != nil {
			logger.Warn("read error: %v", err)
			continue
		}
		if !ok {
			continue
		}
		switch ev.Kind {
		case reliudp.NewConnection:
			logger.Success("connection %d established", ev.ConnID)
		case reliudp.ConnectionLost:
			logger.Warn("connection %d lost", ev.ConnID)
		case reliudp.Receive:
			payload := append([]byte(nil), dest[:ev.N]...)
			if err := srv.Send(ev.ConnID, payload, reliudp.Reliable); err != nil {
				logger.Warn("echo to connection %d failed: %v", ev.ConnID, err)
			}
		}
	}
}
