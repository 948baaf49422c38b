package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshp123/gohome-skyport/internal/agenix"
	"github.com/joshp123/gohome-skyport/internal/auth"
	"github.com/joshp123/gohome-skyport/plugins/skyport"
)

var (
	agenixRepo       string
	agenixSecret     string
	agenixRecipients string
)

func init() {
	loginCmd.Flags().StringVar(&agenixRepo, "agenix-repo", "", "nix-secrets repo to store the auth state in (skipped when empty)")
	loginCmd.Flags().StringVar(&agenixSecret, "agenix-secret", "", "secret name (default gohome-skyport-state.age)")
	loginCmd.Flags().StringVar(&agenixRecipients, "agenix-recipients", "", "space separated recipients (default from secrets.nix)")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to Skyport with the configured password and store the token pair",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Skyport == nil {
			return fmt.Errorf("config has no skyport section")
		}
		runtimeCfg, err := skyport.ConfigFrom(cfg.Skyport)
		if err != nil {
			return err
		}
		if runtimeCfg.Credentials.Password == "" {
			return fmt.Errorf("skyport.password_file is required to log in")
		}
		blob, err := blobStore(cfg.Blob)
		if err != nil {
			return fmt.Errorf("blob store: %w", err)
		}

		manager, err := auth.NewManager(skyport.AuthDeclaration(runtimeCfg.BaseURL, runtimeCfg.StatePath), auth.Options{
			Credentials: runtimeCfg.Credentials,
			Blob:        blob,
			Log:         log.WithName("auth"),
		})
		if err != nil {
			return err
		}
		if err := manager.Login(cmd.Context()); err != nil {
			return fmt.Errorf("login: %w", err)
		}

		state := manager.State()
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s, token valid until %s\n", state.Email, state.Expiry.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(cmd.OutOrStdout(), "state saved to %s\n", runtimeCfg.StatePath)

		if agenixRepo == "" {
			return nil
		}
		plaintext, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return err
		}
		secret := agenixSecret
		if secret == "" {
			secret = agenix.SecretNameFor(skyport.PluginID)
		}
		writer := agenix.Writer{
			RepoPath:   agenixRepo,
			SecretName: secret,
			Recipients: agenix.ParseRecipients(agenixRecipients),
		}
		path, err := writer.Write(cmd.Context(), plaintext)
		if err != nil {
			return fmt.Errorf("persist agenix secret: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "agenix secret written to %s\n", path)
		return nil
	},
}
