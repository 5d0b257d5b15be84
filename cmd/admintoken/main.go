// Command admintoken mints an ADMIN access token for the dashboard API.
// Accounts live in the identity provider; this is for operators and local
// development.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/camp-registration/internal/utils"
)

func main() {
	_ = godotenv.Load()
	subject := flag.String("sub", "", "token subject, recorded as the audit actor")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" || *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: JWT_SECRET=... admintoken -sub <admin id> [-ttl 1h]")
		os.Exit(2)
	}
	tok, err := utils.NewAccessToken(secret, *subject, utils.RoleAdmin, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}
