package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/coursegate/identity"
)

const passwordEnv = "COURSEGATE_PASSWORD"

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage platform accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account",
	Long: `Create an account directly in the data store. The password is read from
$COURSEGATE_PASSWORD, or from the first line of stdin when that is unset.
The server must not be running against the same data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		roleName, _ := cmd.Flags().GetString("role")
		role, err := identity.ParseRole(roleName)
		if err != nil {
			return err
		}
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		repo, closeRepo, err := openRepository(cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		users := identity.NewRepositoryStore(repo, identity.WithBcryptCost(cfg.Auth.BcryptCost))
		user, err := users.CreateUser(context.Background(), email, password, role)
		if err != nil {
			return fmt.Errorf("creating user: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s %s (%s)\n", user.Role, user.Email, user.ID)
		return nil
	},
}

func readPassword(cmd *cobra.Command) (string, error) {
	password := os.Getenv(passwordEnv)
	if password == "" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", errors.New("no password given on stdin or in " + passwordEnv)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if len(password) < 10 {
		return "", errors.New("password must be at least 10 characters")
	}
	return password, nil
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)
	userCreateCmd.Flags().String("email", "", "Account email")
	userCreateCmd.Flags().String("role", "student", "Role: student, instructor or admin")
	_ = userCreateCmd.MarkFlagRequired("email")
}
