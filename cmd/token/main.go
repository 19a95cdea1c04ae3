// Command token mints a signed access token for local development, so the
// student and operator flows can be exercised without an identity provider.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/diagnosis/campus-bookings/pkg/auth"
	"github.com/diagnosis/campus-bookings/pkg/config"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	cfg := config.Load()

	var (
		userID string
		email  string
		role   string
		ttl    time.Duration
		secret string
	)

	flagSet := pflag.NewFlagSet("token", pflag.ContinueOnError)
	flagSet.StringVar(&userID, "user", "", "user id to put in the token subject (default: a new uuid)")
	flagSet.StringVar(&email, "email", "", "email claim")
	flagSet.StringVar(&role, "role", string(auth.RoleStudent), "role: student, operator or admin")
	flagSet.DurationVar(&ttl, "ttl", cfg.Auth.AccessTokenTTL, "token lifetime")
	flagSet.StringVar(&secret, "secret", cfg.Auth.JWTSecret, "signing secret (default: JWT_SECRET)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(out, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(out, flagSet)
		return nil
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	if userID == "" {
		userID = uuid.NewString()
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive, got %s", ttl)
	}

	tok, err := auth.NewAccessToken(userID, email, auth.Role(role), secret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, tok)
	return nil
}

func printHelp(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(out, `Mint a development access token for the campus bookings API.

Usage:
  token [flags]

Flags:
%s`, flagSet.FlagUsages())
}
