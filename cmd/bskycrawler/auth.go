package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"bskycrawler/pkg/auth"
	"bskycrawler/pkg/bluesky"
	"bskycrawler/pkg/config"
	errs "bskycrawler/pkg/errors"
	"bskycrawler/pkg/logger"
	"bskycrawler/pkg/ui"
)

var (
	loginServiceURL string
	skipVerify      bool
	logoutAll       bool
)

// verifyTimeout bounds the createSession/deleteSession round trip of auth login
const verifyTimeout = 30 * time.Second

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Bluesky credentials",
	Long: `Manage stored Bluesky credentials.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)

Always use an app password, never your account password.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [identifier]",
	Short: "Store a Bluesky app password",
	Long: `Store a Bluesky identifier and app password securely.

The credentials are checked by opening and closing a session before they are
saved, unless --no-verify is given.`,
	Example: `  # Interactive login
  bskycrawler auth login

  # Login with a handle on a self-hosted PDS
  bskycrawler auth login alice.example.com --service-url https://pds.example.com`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout [identifier]",
	Short: "Remove stored credentials",
	Example: `  # Remove one account
  bskycrawler auth logout alice.bsky.social

  # Remove every stored account
  bskycrawler auth logout --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored accounts",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)

	loginCmd.Flags().StringVar(&loginServiceURL, "service-url", "", "identity service URL (default https://bsky.social)")
	loginCmd.Flags().BoolVar(&skipVerify, "no-verify", false, "store the credentials without signing in")
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored account")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return errs.NewConfigurationError("failed to initialize credential manager", err)
	}

	serviceURL := loginServiceURL
	if serviceURL == "" {
		serviceURL = config.DefaultConfig().Bluesky.ServiceURL
	}
	if err := config.ValidateServiceURL(serviceURL); err != nil {
		return errs.NewConfigurationError("invalid service URL", err)
	}

	reader := bufio.NewReader(os.Stdin)

	var identifier string
	if len(args) > 0 {
		identifier = args[0]
	}
	if identifier == "" && !ui.IsInteractive() {
		return errs.NewConfigurationError("identifier argument is required when stdin is not a terminal", nil)
	}
	for identifier == "" {
		auth.ShowQuickGuide(os.Stdout)
		fmt.Print("Bluesky handle, DID or email: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read identifier: %w", err)
		}
		input = strings.TrimSpace(input)
		if strings.EqualFold(input, "help") {
			auth.ShowAppPasswordGuide(os.Stdout)
			continue
		}
		identifier = input
	}
	identifier = auth.NormalizeIdentifier(identifier)

	if existing, _ := manager.Retrieve(identifier); existing != nil {
		fmt.Printf("\nAccount '%s' already exists. Update credentials? (y/N): ", identifier)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("App password (hidden): ")
	password, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read app password: %w", err)
	}
	if password == "" {
		return errs.NewConfigurationError("app password is required", auth.ErrInvalidCredentials)
	}
	if !auth.LooksLikeAppPassword(password) {
		ui.PrintWarning("That does not look like an app password (xxxx-xxxx-xxxx-xxxx)")
		fmt.Print("Store it anyway? (y/N): ")
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	account := &auth.Account{
		Identifier:   identifier,
		AppPassword:  password,
		ServiceURL:   serviceURL,
		LastModified: time.Now(),
	}

	if !skipVerify {
		ui.PrintInfo("Verifying", serviceURL)
		if err := verifyAccount(cmd.Context(), account); err != nil {
			return err
		}
		ui.PrintSuccess(fmt.Sprintf("Signed in as %s (%s)", account.Handle, account.DID))
	}

	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess("Account saved: " + identifier)
	fmt.Println("\nStart crawling with:")
	fmt.Println("  bskycrawler crawl -q <query>")
	fmt.Printf("  bskycrawler crawl -q <query> --account %s\n", identifier)
	return nil
}

// verifyAccount opens and immediately closes a session, recording handle and DID
func verifyAccount(ctx context.Context, account *auth.Account) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	client := bluesky.NewClient(account.ServiceURL, verifyTimeout, logger.GetLogger())
	session, err := client.CreateSession(ctx, account.Identifier, account.AppPassword)
	if err != nil {
		return err
	}

	account.Handle = session.Handle()
	account.DID = session.DID()

	if err := client.DestroySession(ctx, session); err != nil {
		logger.WithError(err).Warn("Session teardown failed")
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return errs.NewConfigurationError("failed to initialize credential manager", err)
	}

	if logoutAll {
		reader := bufio.NewReader(os.Stdin)
		fmt.Print("Remove ALL accounts? This cannot be undone! (yes/N): ")
		confirm, _ := reader.ReadString('\n')
		if strings.TrimSpace(confirm) != "yes" {
			return nil
		}
		if err := manager.DeleteAll(); err != nil {
			return fmt.Errorf("failed to remove all accounts: %w", err)
		}
		ui.PrintSuccess("All accounts removed")
		return nil
	}

	var identifier string
	if len(args) > 0 {
		identifier = args[0]
	} else {
		accounts, err := manager.List()
		if err != nil || len(accounts) == 0 {
			ui.PrintWarning("No stored accounts found")
			return nil
		}

		fmt.Println("Select account to remove:")
		for i, account := range accounts {
			fmt.Printf("  %d. %s\n", i+1, account.Identifier)
		}
		fmt.Printf("  0. Cancel\n\n")

		reader := bufio.NewReader(os.Stdin)
		fmt.Print("Choice: ")
		input, _ := reader.ReadString('\n')

		var choice int
		fmt.Sscanf(strings.TrimSpace(input), "%d", &choice)
		if choice == 0 {
			return nil
		}
		if choice < 0 || choice > len(accounts) {
			return fmt.Errorf("invalid choice %d", choice)
		}
		identifier = accounts[choice-1].Identifier
	}

	if err := manager.Delete(identifier); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	ui.PrintSuccess("Account removed: " + identifier)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return errs.NewConfigurationError("failed to initialize credential manager", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "Use 'bskycrawler auth login' to add an account")
		return nil
	}

	ui.PrintHighlight("Stored Accounts")
	fmt.Println()

	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Printf("%d. Identifier: %s\n", i+1, sanitized.Identifier)
		fmt.Printf("   App password: %s\n", sanitized.AppPassword)
		if sanitized.Handle != "" {
			fmt.Printf("   Handle: %s\n", sanitized.Handle)
		}
		if sanitized.DID != "" {
			fmt.Printf("   DID: %s\n", sanitized.DID)
		}
		if sanitized.ServiceURL != "" {
			fmt.Printf("   Service: %s\n", sanitized.ServiceURL)
		}
		if !sanitized.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

// readPassword reads a password from stdin without echoing when stdin is a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
