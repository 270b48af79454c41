// Command idtoken signs an identity assertion the way the identity provider
// does, for local development and scripted logins.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"time"

	"dmchat/internal/auth"
	"dmchat/internal/models"
)

func main() {
	id := flag.String("id", "", "User ID")
	email := flag.String("email", "", "User email")
	name := flag.String("name", "", "Display name")
	avatar := flag.String("avatar", "", "Avatar URL")
	flag.Parse()

	secret := os.Getenv("IDENTITY_SECRET")
	if secret == "" || *id == "" {
		fmt.Println("Usage: IDENTITY_SECRET=<secret> idtoken -id <id> -email <email> -name <name> [-avatar <url>]")
		os.Exit(1)
	}

	svc, err := auth.NewService(context.Background(), auth.Config{
		Secret: base64.StdEncoding.EncodeToString([]byte(secret)),
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	assertion, err := svc.Sign(models.Identity{ID: *id, Email: *email, Name: *name, Avatar: *avatar}, time.Now())
	if err != nil {
		fmt.Printf("Error signing assertion: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(assertion)
}
