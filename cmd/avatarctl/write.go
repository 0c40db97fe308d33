package main

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/maruel/avatardb/internal/server/auth"
	"github.com/maruel/avatardb/internal/tiered"
)

func newRetryAssetCmd(opts *rootOptions) *cobra.Command {
	file := ""
	del := false
	contentType := ""
	cmd := &cobra.Command{
		Use:   "retry-asset <lang> <id>",
		Short: "Re-run the asset step of a write that committed with a warning",
		Long: `Uploads --file as the asset of an existing record, or with --delete removes
the asset of a record that no longer exists.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (file == "") == !del {
				return errors.New("exactly one of --file and --delete is required")
			}
			var asset *tiered.Asset
			if file != "" {
				b, err := os.ReadFile(file) //nolint:gosec // G304: operator supplied path
				if err != nil {
					return err
				}
				ct := contentType
				if ct == "" {
					ct = mime.TypeByExtension(filepath.Ext(file))
				}
				if ct == "" {
					ct = "application/octet-stream"
				}
				asset = &tiered.Asset{Data: b, ContentType: ct}
			}
			st, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			res, err := st.Coordinator.RetryAsset(cmd.Context(), args[0], args[1], asset)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s: %s\n", res.Tx.Operation, args[0], args[1], res.State)
			if !res.AssetSynced {
				return errors.New(res.Warning)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Asset file to upload")
	cmd.Flags().BoolVar(&del, "delete", false, "Delete the asset instead")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Asset content type, guessed from the file extension by default")
	return cmd
}

func newPushCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push the local source repository to its remote now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			if st.Mirror == nil {
				return errors.New("no git remote configured")
			}
			if err := st.Mirror.Push(cmd.Context()); err != nil {
				return err
			}
			return printJSON(cmd, st.Mirror.Status())
		},
	}
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	subject := ""
	email := ""
	role := string(auth.RoleEditor)
	ttl := 24 * time.Hour
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin credential signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if subject == "" {
				return errors.New("--subject is required")
			}
			_, sec, err := opts.loadEnv()
			if err != nil {
				return err
			}
			if sec.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tok, err := auth.Sign([]byte(sec.JWTSecret), subject, email, auth.Role(role), ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Caller identity, recorded as the commit author")
	cmd.Flags().StringVar(&email, "email", "", "Caller email, recorded as the commit author email")
	cmd.Flags().StringVar(&role, "role", role, "viewer, editor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", ttl, "Credential lifetime")
	return cmd
}
