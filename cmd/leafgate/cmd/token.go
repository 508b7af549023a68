package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/jmcleod/leafgate/session"
)

type tokenResult struct {
	Subject   string        `json:"subject,omitempty"`
	TokenID   string        `json:"token_id,omitempty"`
	IssuedAt  *time.Time    `json:"issued_at,omitempty"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
	Valid     bool          `json:"valid"`
	Checks    []checkResult `json:"checks"`
	Note      string        `json:"revocation_note,omitempty"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

const revocationNote = "revocation is tracked per server process and cannot be checked offline"

func (r *tokenResult) pass(name, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "pass", Detail: detail})
}

func (r *tokenResult) fail(name, detail string) {
	r.Valid = false
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "fail", Detail: detail})
}

func (r *tokenResult) warn(name, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: "warn", Detail: detail})
}

// verifyToken runs the same checks the server applies to a session cookie
// and reports each one. Claims are only reported once the signature holds.
func verifyToken(m *session.Manager, raw string, now time.Time) tokenResult {
	result := tokenResult{Valid: true, Note: revocationNote}

	_, err := m.Inspect(raw)
	switch {
	case errors.Is(err, session.ErrMissingToken), errors.Is(err, session.ErrMalformedToken):
		result.fail("structure", err.Error())
		return result
	case errors.Is(err, session.ErrInvalidToken):
		result.pass("structure", "")
		result.fail("signature", "not signed with the configured secret")
		return result
	case err != nil && !errors.Is(err, session.ErrExpiredToken) && !errors.Is(err, session.ErrRevokedToken):
		result.fail("structure", err.Error())
		return result
	}
	result.pass("structure", "")
	result.pass("signature", "")

	var claims jwt.RegisteredClaims
	if _, _, perr := jwt.NewParser().ParseUnverified(raw, &claims); perr == nil {
		result.Subject = claims.Subject
		result.TokenID = claims.ID
		if claims.IssuedAt != nil {
			t := claims.IssuedAt.UTC()
			result.IssuedAt = &t
		}
		if claims.ExpiresAt != nil {
			t := claims.ExpiresAt.UTC()
			result.ExpiresAt = &t
		}
	}

	switch {
	case errors.Is(err, session.ErrExpiredToken):
		detail := "token has expired"
		if result.ExpiresAt != nil {
			detail = fmt.Sprintf("expired at %s", result.ExpiresAt.Format(time.RFC3339))
		}
		result.fail("expiry", detail)
	case errors.Is(err, session.ErrRevokedToken):
		result.pass("expiry", "")
		result.fail("revocation", err.Error())
	default:
		detail := ""
		if result.ExpiresAt != nil {
			detail = fmt.Sprintf("expires in %s", result.ExpiresAt.Sub(now).Truncate(time.Second))
		}
		result.pass("expiry", detail)
	}

	// A different lifetime means the token was issued under other settings.
	if result.IssuedAt != nil && result.ExpiresAt != nil {
		if got := result.ExpiresAt.Sub(*result.IssuedAt); got != m.Lifetime() {
			result.warn("lifetime", fmt.Sprintf("issued for %s, configured lifetime is %s", got, m.Lifetime()))
		} else {
			result.pass("lifetime", "")
		}
	}
	return result
}

func printHumanResult(w io.Writer, result tokenResult) {
	fmt.Fprintln(w, "Session token verification")
	if result.Subject != "" {
		fmt.Fprintf(w, "Subject:  %s\n", result.Subject)
		fmt.Fprintf(w, "Token ID: %s\n", result.TokenID)
	}
	if result.IssuedAt != nil {
		fmt.Fprintf(w, "Issued:   %s\n", result.IssuedAt.Format(time.RFC3339))
	}
	if result.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires:  %s\n", result.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)

	failures, warnings := 0, 0
	for _, c := range result.Checks {
		tag := "[PASS]"
		switch c.Status {
		case "fail":
			tag = "[FAIL]"
			failures++
		case "warn":
			tag = "[WARN]"
			warnings++
		}
		if c.Detail != "" {
			fmt.Fprintf(w, "%s %s: %s\n", tag, c.Name, c.Detail)
		} else {
			fmt.Fprintf(w, "%s %s\n", tag, c.Name)
		}
	}
	if result.Note != "" {
		fmt.Fprintf(w, "[INFO] %s\n", result.Note)
	}

	fmt.Fprintln(w)
	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
	} else {
		fmt.Fprintf(w, "Result: INVALID (%d error(s), %d warning(s))\n", failures, warnings)
	}
}

func printJSONResult(w io.Writer, result tokenResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// readToken returns arg, or the first line of stdin when arg is "-".
func readToken(arg string, stdin io.Reader) (string, error) {
	if arg != "-" {
		return strings.TrimSpace(arg), nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Session token utilities",
}

var verifyJSONOutput bool

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify [token|-]",
	Short: "Verify a session token against the configured secret",
	Long: `Checks the structure, signature, expiry and lifetime of a session token
using the session secret from the current configuration. Pass "-" to read
the token from stdin so it does not end up in shell history.

Exits 1 when the token would be rejected and 2 when it cannot be checked.`,
	Args: cobra.ExactArgs(1),
	RunE: runTokenVerify,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenVerifyCmd)
	tokenVerifyCmd.Flags().BoolVar(&verifyJSONOutput, "json", false, "Output results as JSON")
}

func runTokenVerify(cmd *cobra.Command, args []string) error {
	raw, err := readToken(args[0], cmd.InOrStdin())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot read token: %v\n", err)
		os.Exit(2)
	}
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	m, err := session.NewManager(cfg.Session)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	result := verifyToken(m, raw, time.Now())
	out := cmd.OutOrStdout()
	if verifyJSONOutput {
		if err := printJSONResult(out, result); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
	} else {
		printHumanResult(out, result)
	}

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}
