package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fundora/apiserver/config"
	"github.com/fundora/apiserver/internal/db"
	"github.com/fundora/apiserver/internal/services"
	"github.com/fundora/apiserver/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user account",
	Long: `Creates a user account. The password is prompted for when --password
is omitted.

	fundora user add --email ada@example.com --name "Ada Lovelace"
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		password, _ := cmd.Flags().GetString("password")

		if password == "" {
			fmt.Fprint(cmd.OutOrStdout(), "Password: ")
			var err error
			password, err = readPassword(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}
		if strings.TrimSpace(password) == "" {
			return errors.New("password cannot be empty")
		}

		cfg := config.LoadConfig()
		conn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		accounts := services.NewAuthService(store.NewUserRepository(conn), nil, nil, nil)
		user, err := accounts.CreateAccount(cmd.Context(), services.RegisterInput{
			FullName: name,
			Email:    email,
			Password: password,
		})
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("user %s already exists", strings.TrimSpace(email))
		}
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "User %s created with ID %s\n", user.Email, user.ID)
		return nil
	},
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Pipes and tests.
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)

	userAddCmd.Flags().String("email", "", "Email address (required)")
	userAddCmd.Flags().String("name", "", "Full name (required)")
	userAddCmd.Flags().String("password", "", "Password (prompted when omitted)")
	_ = userAddCmd.MarkFlagRequired("email")
	_ = userAddCmd.MarkFlagRequired("name")
}
