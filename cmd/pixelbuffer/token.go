package main

import (
	"fmt"
	"time"

	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/session"

	"github.com/spf13/cobra"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for jwt session stores",
		Args:  cobra.NoArgs,
		RunE:  issueToken,
	}
	flags := cmd.Flags()
	flags.String("session-key", "", "OMERO server session key carried by the token")
	flags.Int64("user", 0, "user id")
	flags.Int64Slice("groups", nil, "group ids")
	flags.Bool("admin", false, "grant administrator access")
	flags.Duration("ttl", time.Hour, "token lifetime")
	return cmd
}

func issueToken(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if c.Session.Type != "jwt" {
		return fmt.Errorf("session.type is %q, tokens are only accepted by jwt session stores", c.Session.Type)
	}
	resolver, err := session.NewJWTResolver(c.Session.Secret)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	var cred pixbuf.Credential
	cred.SessionKey, _ = flags.GetString("session-key")
	cred.UserID, _ = flags.GetInt64("user")
	cred.GroupIDs, _ = flags.GetInt64Slice("groups")
	cred.Admin, _ = flags.GetBool("admin")
	if cred.SessionKey == "" {
		return fmt.Errorf("--session-key is required")
	}
	ttl, _ := flags.GetDuration("ttl")

	token, err := resolver.Token(cred, time.Now().Add(ttl))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
