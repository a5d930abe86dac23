// portalctl issues bearer tokens for local development and support.
//
//	portalctl -role producer -id p-1 -name "Pat Producer"
//	portalctl -role client -id c-1 -client 7d1f... -name "Casey Client"
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"pyrus-portal/portal-backend/internal/auth"
	"pyrus-portal/portal-backend/internal/config"
	"pyrus-portal/portal-backend/pkg/workflows"
)

var (
	configFlag = flag.String("config", "", "Path to config.yaml or a directory holding it")
	roleFlag   = flag.String("role", "producer", "Actor role (producer, client)")
	idFlag     = flag.String("id", "", "Actor id")
	nameFlag   = flag.String("name", "", "Actor display name")
	clientFlag = flag.String("client", "", "Client account id, required for clients")
	ttlFlag    = flag.Duration("ttl", 0, "Token lifetime; defaults to auth.token_ttl")
)

func main() {
	flag.Parse()
	config.LoadDotEnv()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "portalctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(*configFlag)
	if err != nil {
		return err
	}

	actor, err := actorFromFlags(*roleFlag, *idFlag, *nameFlag, *clientFlag)
	if err != nil {
		return err
	}

	ttl := cfg.Auth.TokenTTL
	if *ttlFlag > 0 {
		ttl = *ttlFlag
	}

	token, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl).Issue(actor)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return nil
}

func actorFromFlags(role, id, name, client string) (auth.Actor, error) {
	r, err := workflows.ParseRole(role)
	if err != nil {
		return auth.Actor{}, err
	}
	if id == "" {
		return auth.Actor{}, fmt.Errorf("-id is required")
	}

	actor := auth.Actor{ID: id, Name: name, Role: r}
	if r == workflows.RoleClient {
		if client == "" {
			return auth.Actor{}, fmt.Errorf("-client is required for client actors")
		}
		clientID, err := uuid.Parse(client)
		if err != nil {
			return auth.Actor{}, fmt.Errorf("-client must be a UUID: %w", err)
		}
		actor.ClientID = &clientID
	}
	return actor, nil
}
