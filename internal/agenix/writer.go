// Package agenix stores auth state as an age-encrypted secret in a
// nix-secrets repository.
package agenix

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// Writer persists secrets into a nix-secrets repo via agenix.
type Writer struct {
	RepoPath   string
	RulesPath  string
	SecretName string
	Recipients []string
	Exec       string
	SkipUpdate bool
}

// SecretNameFor is the default secret file for a provider's auth state.
func SecretNameFor(provider string) string {
	return "gohome-" + provider + "-state.age"
}

// ParseRecipients splits a space or comma separated recipient list.
func ParseRecipients(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == '\n'
	})
}

// Write encrypts plaintext into the configured secret file and returns its path.
func (w Writer) Write(ctx context.Context, plaintext []byte) (string, error) {
	if w.RepoPath == "" {
		return "", fmt.Errorf("agenix repo path is required")
	}
	if w.SecretName == "" {
		return "", fmt.Errorf("agenix secret name is required")
	}
	secretName := w.SecretName
	if !strings.HasSuffix(secretName, ".age") {
		secretName += ".age"
	}

	rules := w.RulesPath
	if rules == "" {
		rules = filepath.Join(w.RepoPath, "secrets.nix")
	}
	secretPath := filepath.Join(w.RepoPath, secretName)

	if !w.SkipUpdate {
		recipients := w.Recipients
		if len(recipients) == 0 {
			var err error
			recipients, err = DefaultRecipients(rules)
			if err != nil {
				return "", err
			}
		}
		if err := EnsureSecretEntry(rules, secretName, recipients); err != nil {
			return "", err
		}
	}

	execName := w.Exec
	if execName == "" {
		execName = "agenix"
	}

	cmd := exec.CommandContext(ctx, execName, "-e", secretPath)
	cmd.Dir = w.RepoPath
	cmd.Env = append(os.Environ(),
		"RULES="+rules,
		"EDITOR=cp /dev/stdin",
	)
	cmd.Stdin = bytes.NewReader(plaintext)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("agenix: %w: %s", err, strings.TrimSpace(string(output)))
	}

	return secretPath, nil
}

var secretsClose = regexp.MustCompile(`\n}\s*$`)

// EnsureSecretEntry adds a secret entry to secrets.nix if missing.
func EnsureSecretEntry(rulesPath, secretName string, recipients []string) error {
	info, err := os.Stat(rulesPath)
	if err != nil {
		return fmt.Errorf("stat secrets.nix: %w", err)
	}
	content, err := os.ReadFile(rulesPath)
	if err != nil {
		return fmt.Errorf("read secrets.nix: %w", err)
	}
	pattern := regexp.MustCompile(regexp.QuoteMeta("\""+secretName+"\"") + `\s*\.publicKeys`)
	if pattern.Match(content) {
		return nil
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no recipients available for %s", secretName)
	}

	loc := secretsClose.FindIndex(content)
	if loc == nil {
		return fmt.Errorf("secrets.nix missing closing brace")
	}
	entry := fmt.Sprintf("  %q.publicKeys = [ %s ];", secretName, strings.Join(recipients, " "))
	updated := string(content[:loc[0]]) + "\n" + entry + string(content[loc[0]:])
	mode := info.Mode().Perm()
	if mode == 0 {
		mode = 0o600
	}
	return os.WriteFile(rulesPath, []byte(updated), mode)
}

var gohomeRecipients = regexp.MustCompile(`"gohome-[^"]+\.age"\s*\.publicKeys\s*=\s*\[([^\]]+)\]`)

// DefaultRecipients reuses the recipients of an existing gohome secret.
func DefaultRecipients(rulesPath string) ([]string, error) {
	content, err := os.ReadFile(rulesPath)
	if err != nil {
		return nil, fmt.Errorf("read secrets.nix: %w", err)
	}
	match := gohomeRecipients.FindStringSubmatch(string(content))
	if len(match) < 2 {
		return nil, fmt.Errorf("no gohome recipients found in %s", rulesPath)
	}
	fields := strings.Fields(match[1])
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty recipient list in %s", rulesPath)
	}
	return fields, nil
}
