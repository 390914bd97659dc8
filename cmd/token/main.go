// Command token mints development bearer tokens for the tracking server.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"bustrack/internal/auth"
)

func main() {
	secret := pflag.String("secret", os.Getenv("BUSTRACK_JWT_SECRET"), "HMAC secret (defaults to BUSTRACK_JWT_SECRET)")
	issuer := pflag.String("issuer", os.Getenv("BUSTRACK_JWT_ISSUER"), "token issuer")
	user := pflag.StringP("user", "u", "", "user id (token subject)")
	role := pflag.StringP("role", "r", string(auth.RoleStudent), "role: student, driver or transport_dept")
	name := pflag.StringP("name", "n", "", "display name")
	ttl := pflag.Duration("ttl", 24*time.Hour, "token lifetime")
	pflag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "token: --user is required")
		pflag.Usage()
		os.Exit(2)
	}
	verifier, err := auth.NewVerifier(*secret, *issuer)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
	token, err := verifier.Issue(auth.Identity{UserID: *user, Role: auth.Role(*role), Name: *name}, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
