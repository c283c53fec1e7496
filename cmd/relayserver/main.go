package main

import (
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/cipherchat/dm-app/internal/auth"
	"github.com/cipherchat/dm-app/internal/config"
	"github.com/cipherchat/dm-app/internal/crypto"
	"github.com/cipherchat/dm-app/internal/messaging"
	"github.com/cipherchat/dm-app/internal/protocol"
	"github.com/cipherchat/dm-app/internal/ratelimit"
	"github.com/cipherchat/dm-app/internal/registry"
	"github.com/cipherchat/dm-app/internal/relay"
	"github.com/cipherchat/dm-app/internal/session"
	"github.com/cipherchat/dm-app/internal/store"
	"github.com/cipherchat/dm-app/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.MaxConnections = cfg.MaxConnections
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout

	serverName := cfg.ServerName
	if serverName == "" {
		serverName, _ = os.Hostname()
	}
	if serverName == "" {
		serverName = "relay-1"
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to open Postgres: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to reach Postgres: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	messageStore := store.NewMessageStore(db)
	accountStore := store.NewAccountStore(db)

	// --- Redis ---
	presence, err := session.NewStore(cfg.RedisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	limiter := ratelimit.NewLimiter(presence.Client())

	// --- NATS (optional, enables multi-instance delivery) ---
	var bridge *messaging.Bridge
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = serverName
		bridge, err = messaging.NewBridge(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	}

	key, err := cfg.Key()
	if err != nil {
		log.Fatalf("failed to decode encryption key: %v", err)
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		log.Fatalf("failed to initialize cipher: %v", err)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	reg := registry.New()

	// The relay treats nil collaborators as disabled, so only hand it a
	// bridge when one was actually connected.
	var relayBridge relay.Publisher
	if bridge != nil {
		relayBridge = bridge
	}
	rel := relay.New(cipher, accountStore, messageStore, reg, relayBridge, limiter)

	dispatcher := ws.NewDispatcher()
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, event interface{}) {
		rel.HandleMessage(conn.Session, event)
	})
	dispatcher.Register(protocol.TypeStatusUpdate, func(conn *ws.Connection, event interface{}) {
		rel.HandleStatusUpdate(conn.Session, event)
	})
	dispatcher.Register(protocol.TypeDeleteMessage, func(conn *ws.Connection, event interface{}) {
		rel.HandleDelete(conn.Session, event)
	})

	server := ws.NewServer(serverConfig, verifier, reg, dispatcher, presence, bridge, limiter)

	log.Printf("relay server starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  read_timeout:    %s", serverConfig.ReadTimeout)
	log.Printf("  write_timeout:   %s", serverConfig.WriteTimeout)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATSURL)
	log.Printf("  server_name:     %s", serverName)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if bridge != nil {
			bridge.Close()
		}
		if err := presence.Close(); err != nil {
			log.Printf("presence store close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
