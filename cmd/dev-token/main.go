package main

import (
	"flag"
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// dev-token prints a signed JWT for local testing of the exam client and
// the proctor monitor.
func main() {
	var (
		userID  int
		proctor bool
	)
	flag.IntVar(&userID, "user", 1, "Student or proctor id")
	flag.BoolVar(&proctor, "proctor", false, "Issue a proctor token instead of a student token")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if userID <= 0 {
		log.Fatal().Int("user", userID).Msg("user must be positive")
	}

	tokenType := service.TokenTypeStudent
	if proctor {
		tokenType = service.TokenTypeProctor
	}

	auth := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	token, err := auth.GenerateToken(tokenType, userID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}
	fmt.Println(token)
}
