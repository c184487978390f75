package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

const (
	defaultServer = "http://127.0.0.1:8080"
	envToken      = "SWARMGATE_TOKEN"
	envPassword   = "SWARMGATE_PASSWORD"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "login":
		err = runLogin(os.Args[2:])
	case "ban-account":
		err = runBanAccount(os.Args[2:])
	case "unban-account":
		err = runUnbanAccount(os.Args[2:])
	case "account-bans":
		err = runAccountBans(os.Args[2:])
	case "ban-range":
		err = runBanRange(os.Args[2:])
	case "unban-range":
		err = runUnbanRange(os.Args[2:])
	case "ranges":
		err = runListRanges(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: gatectl <command> [flags]

Commands:
  login          obtain a bearer token for the admin commands
  ban-account    ban an account, optionally until a deadline
  unban-account  deactivate an account ban by its id
  account-bans   list the ban history of an account
  ban-range      ban an inclusive address range
  unban-range    remove an address range ban by its id
  ranges         list the active address range bans

Admin commands read the bearer token from -token or `+envToken+`.`)
}

type client struct {
	server string
	token  string
	http   *http.Client
}

func newClient(server, token string) *client {
	return &client{
		server: strings.TrimRight(server, "/"),
		token:  token,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *client) do(method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.server+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return err
	}
	if res.StatusCode >= 400 {
		var denial struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &denial) == nil && denial.Error != "" {
			return fmt.Errorf("%s (%d)", denial.Error, res.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func adminFlags(fs *flag.FlagSet) (server, token *string) {
	server = fs.String("server", defaultServer, "gated base URL")
	token = fs.String("token", os.Getenv(envToken), "admin bearer token")
	return server, token
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	server := fs.String("server", defaultServer, "gated base URL")
	handle := fs.String("handle", "", "account handle")
	fs.Parse(args)

	if strings.TrimSpace(*handle) == "" {
		return fmt.Errorf("-handle is required")
	}
	password, err := resolvePassword()
	if err != nil {
		return err
	}

	var res struct {
		Token string `json:"token"`
	}
	c := newClient(*server, "")
	if err := c.do(http.MethodPost, "/v1/auth/login", map[string]string{
		"handle":   *handle,
		"password": password,
	}, &res); err != nil {
		return err
	}
	fmt.Println(res.Token)
	return nil
}

// resolvePassword reads the password from the environment when set, else
// prompts on the terminal without echo.
func resolvePassword() (string, error) {
	if value, ok := os.LookupEnv(envPassword); ok {
		if strings.TrimSpace(value) == "" {
			return "", fmt.Errorf("%s is set but empty", envPassword)
		}
		return value, nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("password required; set %s or run interactively", envPassword)
	}
	fmt.Fprint(os.Stderr, "Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("password cannot be empty")
	}
	return string(raw), nil
}

func runBanAccount(args []string) error {
	fs := flag.NewFlagSet("ban-account", flag.ExitOnError)
	server, token := adminFlags(fs)
	accountID := fs.String("account", "", "account id to ban")
	reason := fs.String("reason", "", "reason shown in the ban record")
	until := fs.String("until", "", "optional RFC 3339 expiry; omit for permanent")
	fs.Parse(args)

	payload := map[string]any{
		"accountId": *accountID,
		"reason":    *reason,
	}
	if strings.TrimSpace(*until) != "" {
		deadline, err := time.Parse(time.RFC3339, *until)
		if err != nil {
			return fmt.Errorf("invalid -until: %w", err)
		}
		payload["expiresAt"] = deadline
	}

	var ban json.RawMessage
	c := newClient(*server, *token)
	if err := c.do(http.MethodPost, "/v1/admin/account-bans", payload, &ban); err != nil {
		return err
	}
	return printJSON(ban)
}

func runUnbanAccount(args []string) error {
	fs := flag.NewFlagSet("unban-account", flag.ExitOnError)
	server, token := adminFlags(fs)
	banID := fs.String("ban", "", "ban id to deactivate")
	fs.Parse(args)

	var ban json.RawMessage
	c := newClient(*server, *token)
	if err := c.do(http.MethodDelete, "/v1/admin/account-bans/"+*banID, nil, &ban); err != nil {
		return err
	}
	return printJSON(ban)
}

func runAccountBans(args []string) error {
	fs := flag.NewFlagSet("account-bans", flag.ExitOnError)
	server, token := adminFlags(fs)
	accountID := fs.String("account", "", "account id to inspect")
	fs.Parse(args)

	var bans json.RawMessage
	c := newClient(*server, *token)
	if err := c.do(http.MethodGet, "/v1/admin/accounts/"+*accountID+"/bans", nil, &bans); err != nil {
		return err
	}
	return printJSON(bans)
}

func runBanRange(args []string) error {
	fs := flag.NewFlagSet("ban-range", flag.ExitOnError)
	server, token := adminFlags(fs)
	from := fs.String("from", "", "first address of the range")
	to := fs.String("to", "", "last address of the range")
	reason := fs.String("reason", "", "reason shown in the ban record")
	fs.Parse(args)

	var ban json.RawMessage
	c := newClient(*server, *token)
	if err := c.do(http.MethodPost, "/v1/admin/address-bans", map[string]string{
		"from":   *from,
		"to":     *to,
		"reason": *reason,
	}, &ban); err != nil {
		return err
	}
	return printJSON(ban)
}

func runUnbanRange(args []string) error {
	fs := flag.NewFlagSet("unban-range", flag.ExitOnError)
	server, token := adminFlags(fs)
	banID := fs.String("ban", "", "address ban id to remove")
	fs.Parse(args)

	c := newClient(*server, *token)
	return c.do(http.MethodDelete, "/v1/admin/address-bans/"+*banID, nil, nil)
}

func runListRanges(args []string) error {
	fs := flag.NewFlagSet("ranges", flag.ExitOnError)
	server, token := adminFlags(fs)
	fs.Parse(args)

	var bans json.RawMessage
	c := newClient(*server, *token)
	if err := c.do(http.MethodGet, "/v1/admin/address-bans", nil, &bans); err != nil {
		return err
	}
	return printJSON(bans)
}

func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}
