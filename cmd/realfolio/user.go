package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/realfolio/realfolio/internal/auth"
	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	userEmail    string
	userName     string
	userOperator bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage local user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create a user with a password login",
	Long: `Create a user with a password login. The password is read from the
terminal, or from REALFOLIO_USER_PASSWORD when stdin is not a terminal.`,
	Args: cobra.ExactArgs(1),
	RunE: runUserCreate,
}

func init() {
	userCreateCmd.Flags().StringVar(&userEmail, "email", "", "E-mail address invitations are matched against (required)")
	userCreateCmd.Flags().StringVar(&userName, "name", "", "Display name")
	userCreateCmd.Flags().BoolVar(&userOperator, "operator", false, "Grant system operator rights")
	_ = userCreateCmd.MarkFlagRequired("email")
	userCmd.AddCommand(userCreateCmd)
}

func readPassword() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if p := os.Getenv("REALFOLIO_USER_PASSWORD"); p != "" {
			return p, nil
		}
		return "", errors.New("stdin is not a terminal and REALFOLIO_USER_PASSWORD is not set")
	}

	fmt.Print("Password: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	fmt.Print("Confirm password: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	username := strings.TrimSpace(args[0])
	if username == "" {
		return errors.New("username is required")
	}
	password, err := readPassword()
	if err != nil {
		return err
	}
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	_, database, err := server.Open(configFile)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	user := models.User{
		Username:     username,
		Email:        strings.ToLower(strings.TrimSpace(userEmail)),
		DisplayName:  userName,
		PasswordHash: hash,
		IsAdmin:      userOperator,
	}
	if err := database.Create(&user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Printf("Created user %s (%s)\n", user.Username, user.ID)
	return nil
}
