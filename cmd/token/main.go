package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"checkout-service/config"
	"checkout-service/internal/auth"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// token prints a bearer token signed with JWT_SECRET, for calling the API
// locally without the identity service.
func main() {
	userID := flag.Int64("user", 1, "user id")
	role := flag.String("role", auth.RoleCustomer, "customer or admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	cfg := config.Load()
	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()
	logger := util.GetLogger()

	if *role != auth.RoleCustomer && *role != auth.RoleAdmin {
		logger.Fatal("Unknown role", zap.String("role", *role))
	}

	token, err := auth.NewManager(cfg.Auth.JWTSecret).Issue(*userID, *role, *ttl)
	if err != nil {
		logger.Fatal("Failed to issue token", zap.Error(err))
	}
	fmt.Println(token)
}
