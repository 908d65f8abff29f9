package main

import (
	"flag"
	"fmt"
	"time"

	"campusvote.org/internal/identity"
)

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	secret := fs.String("secret", envOr("CAMPUSVOTE_AUTH_SECRET", ""), "HS256 signing secret")
	issuer := fs.String("issuer", envOr("CAMPUSVOTE_AUTH_ISSUER", "campusvote"), "token issuer")
	user := fs.String("user", "", "user id (required)")
	role := fs.String("role", string(identity.RoleStudent), "admin or student")
	section := fs.String("section", "", "student section")
	year := fs.String("year", "", "student year")
	ttl := fs.Duration("ttl", 12*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tok, err := mintToken(*secret, *issuer, *user, identity.Role(*role), *section, *year, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func mintToken(secret, issuer, user string, role identity.Role, section, year string, ttl time.Duration) (string, error) {
	tokens, err := identity.NewTokens(secret, issuer)
	if err != nil {
		return "", err
	}
	who, err := identity.New(user, role, section, year)
	if err != nil {
		return "", err
	}
	return tokens.Issue(who, ttl)
}
