// Command gatewayctl is the operator CLI for the gateway. It revokes token
// ids in the shared store, mints development HS256 tokens, resolves pending
// confirmations over the gateway API and manages the audit table.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"mcpgateway/pkg/auth"
	"mcpgateway/pkg/config"
	"mcpgateway/pkg/gatewayclient"
	"mcpgateway/pkg/store"
)

// Testable variables for main()
var (
	osExit     = os.Exit
	loadConfig = config.Load
	openRedis  = store.NewRedis
	now        = time.Now
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Print(err)
		osExit(1)
	}
}

func run(args []string, out io.Writer) error {
	root := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Operate the MCP gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.AddCommand(revokeCmd())
	root.AddCommand(tokenCmd())
	root.AddCommand(confirmCmd())
	root.AddCommand(auditCmd())
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	return root.Execute()
}

// parseUntil accepts an RFC 3339 instant or a duration from now.
func parseUntil(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("until must be in the future: %s", raw)
		}
		return now().Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("until must be RFC3339 or a duration: %q", raw)
	}
	if !t.After(now()) {
		return time.Time{}, fmt.Errorf("until must be in the future: %s", raw)
	}
	return t, nil
}

func revokeCmd() *cobra.Command {
	var jti, until string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a token id until its expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(jti) == "" {
				return errors.New("--jti is required")
			}
			at, err := parseUntil(until)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx := cmd.Context()
			client, err := openRedis(ctx, cfg.Redis)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			defer func(c *redis.Client) { _ = c.Close() }(client)

			checker := auth.NewRevocationChecker(store.NewRedisCache(client))
			checker.Now = now
			if err := checker.Revoke(ctx, jti, at); err != nil {
				return fmt.Errorf("revoke: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s until %s\n", jti, at.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&jti, "jti", "", "token id (jti claim) to revoke")
	cmd.Flags().StringVar(&until, "until", "24h", "revocation end as RFC3339 or duration from now")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		sub, username, issuer, audience, secret string
		roles                                   []string
		ttl                                     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development HS256 token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(sub) == "" {
				return errors.New("--sub is required")
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.Production() {
				return errors.New("refusing to mint HS256 tokens in production")
			}
			if secret == "" {
				secret = cfg.HS256Secret
			}
			if issuer == "" {
				issuer = cfg.Issuer
			}
			if audience == "" {
				audience = cfg.Audience
			}
			if username == "" {
				username = sub
			}
			issued := now()
			claims := map[string]any{
				"sub":                sub,
				"preferred_username": username,
				"jti":                uuid.NewString(),
				"roles":              roles,
				"iat":                issued.Unix(),
				"exp":                issued.Add(ttl).Unix(),
			}
			if issuer != "" {
				claims["iss"] = issuer
			}
			if audience != "" {
				claims["aud"] = audience
			}
			tok, err := auth.SignHS256(claims, secret)
			if err != nil {
				return fmt.Errorf("sign: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "subject (user id)")
	cmd.Flags().StringVar(&username, "username", "", "preferred_username claim (defaults to sub)")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "comma-separated roles")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&issuer, "issuer", "", "iss claim (defaults to AUTH_ISSUER)")
	cmd.Flags().StringVar(&audience, "audience", "", "aud claim (defaults to AUTH_AUDIENCE)")
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (defaults to AUTH_HS256_SECRET)")
	return cmd
}

func confirmCmd() *cobra.Command {
	var (
		id, gatewayURL, token string
		approve, deny         bool
		timeout               time.Duration
	)
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Approve or deny a pending confirmation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == deny {
				return errors.New("exactly one of --approve or --deny is required")
			}
			if token == "" {
				token = os.Getenv("GATEWAY_TOKEN")
			}
			if token == "" {
				return errors.New("--token or GATEWAY_TOKEN is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client := &gatewayclient.Client{BaseURL: gatewayURL, Token: token}
			reply, err := client.Confirm(ctx, id, approve)
			if err != nil {
				return err
			}
			var pretty any
			if err := json.Unmarshal(reply.Body, &pretty); err != nil {
				return fmt.Errorf("decode reply: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pretty)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "confirmation id")
	cmd.Flags().BoolVar(&approve, "approve", false, "approve and execute the action")
	cmd.Flags().BoolVar(&deny, "deny", false, "deny the action")
	cmd.Flags().StringVar(&gatewayURL, "gateway", envOr("GATEWAY_URL", "http://localhost:8080"), "gateway base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token of the user who owns the confirmation (defaults to GATEWAY_TOKEN)")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")
	return cmd
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
