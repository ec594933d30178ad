// Command devtoken prints an HS256 access token signed with JWT_SECRET
// for calling the API locally.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/movie-ticket-booking/internal/utils"
)

func main() {
	_ = godotenv.Load()

	user := flag.String("user", "dev-user", "subject (user id)")
	email := flag.String("email", "dev@example.com", "email claim")
	role := flag.String("role", "CUSTOMER", "role claim (CUSTOMER or ADMIN)")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	tok, err := utils.NewAccessToken(os.Getenv("JWT_SECRET"), *user, *email, *role, *ttl)
	if err != nil {
		slog.Error("cannot issue token", "err", err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
