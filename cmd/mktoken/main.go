// mktoken mints a session token for a user, for development and testing.
//
//	JWT_SECRET=... mktoken -id 1 -username alice -ttl 24h
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/cipherchat/dm-app/internal/auth"
)

func main() {
	id := flag.Int64("id", 0, "user id (required)")
	username := flag.String("username", "", "username (required)")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *id <= 0 || *username == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	verifier := auth.NewVerifier(secret)
	token, err := verifier.Issue(auth.Identity{ID: *id, Username: *username}, *ttl)
	if err != nil {
		log.Fatalf("failed to issue token: %v", err)
	}
	fmt.Println(token)
}
