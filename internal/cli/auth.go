package cli

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/abelzeko/water-balance/internal/entities"
)

// loginCommand creates the login command.
func (c *CLI) loginCommand() *cobra.Command {
	var phone, password string
	var showToken bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with phone and password",
		Long: `Sign in with phone and password and show the account.

Sessions are not stored. Pass the printed token to later commands with
WATERBALANCE_TOKEN, or configure WATERBALANCE_PHONE and WATERBALANCE_PASSWORD.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if phone == "" {
				phone = a.Config.Auth.Phone
			}
			if password == "" {
				password = a.Config.Auth.Password
			}
			if phone == "" || password == "" {
				return errors.New("phone and password are required (--phone/--password or WATERBALANCE_PHONE/WATERBALANCE_PASSWORD)")
			}

			result, err := a.UseCase.Login(cmd.Context(), entities.LoginData{Phone: phone, Password: password})
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printSuccess(w, "Signed in")
			printKeyValue(w, "User ID", result.User.ID)
			printKeyValue(w, "Phone", result.User.Phone)
			printKeyValue(w, "Email", result.User.Email)
			printKeyValue(w, "Created", result.User.CreatedAt)
			printKeyValue(w, "Updated", result.User.UpdatedAt)
			if showToken {
				printKeyValue(w, "Token", result.Token)
			} else {
				printDetail(w, "Use --show-token to print the access token")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "account phone number")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().BoolVar(&showToken, "show-token", false, "print the session access token")
	return cmd
}

// logoutCommand creates the logout command.
func (c *CLI) logoutCommand() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Revoke a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if token == "" {
				token = a.Config.Auth.Token
			}
			if token == "" {
				printInfo(cmd.OutOrStdout(), "No session token given, nothing to do")
				return nil
			}

			a.Client.SetAccessToken(token)
			if err := a.UseCase.Logout(cmd.Context()); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "session token to revoke (default WATERBALANCE_TOKEN)")
	return cmd
}

// whoamiCommand creates the whoami command.
func (c *CLI) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Authenticate(cmd.Context()); err != nil {
				return err
			}
			info, err := a.UseCase.GetUserInfo(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printTitle(w, info.AccountID)
			printKeyValue(w, "Role", info.Role)
			printKeyValue(w, "Phone", info.Phone)
			printKeyValue(w, "Email", info.Email)
			printKeyValue(w, "Job", info.JobName)
			printKeyValue(w, "Organization", info.OrganizationName)
			printKeyValue(w, "Location", info.LocationName)
			printKeyValue(w, "Website", info.PersonalWebsite)
			printKeyValue(w, "Registered", info.RegistrationDate)
			printKeyValue(w, "Certified", strconv.FormatBool(info.Certification != 0))
			return nil
		},
	}
}
