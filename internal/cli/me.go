package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/medresearch/internal/client"
	"github.com/raphaelgruber/medresearch/internal/models"
)

var (
	meName    string
	mePicture string
	meTrust   []string
)

var meCmd = &cobra.Command{
	Use:   "me",
	Short: "Show or update your profile",
	Long: `Show your profile. The user is created on first use.

Examples:
  medresearch me
  medresearch me set --name "Ada Lovelace"
  medresearch me set --trust nejm.org,thelancet.com`,
	Args: cobra.NoArgs,
	RunE: runShowMe,
}

var meSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update your profile",
	Args:  cobra.NoArgs,
	RunE:  runSetMe,
}

func init() {
	meSetCmd.Flags().StringVar(&meName, "name", "", "display name")
	meSetCmd.Flags().StringVar(&mePicture, "picture", "", "picture URL")
	meSetCmd.Flags().StringSliceVar(&meTrust, "trust", nil, "trusted sites, replaces the current list")

	meCmd.AddCommand(meSetCmd)
}

func runShowMe(cmd *cobra.Command, args []string) error {
	u, err := apiClient.Me(context.Background())
	if err != nil {
		return fmt.Errorf("get profile: %w", err)
	}
	printUser(cmd, u)
	return nil
}

func runSetMe(cmd *cobra.Command, args []string) error {
	var upd client.ProfileUpdate
	flags := cmd.Flags()
	if flags.Changed("name") {
		upd.Name = &meName
	}
	if flags.Changed("picture") {
		upd.Picture = &mePicture
	}
	if flags.Changed("trust") {
		upd.TrustedSites = meTrust
	}
	if upd.Name == nil && upd.Picture == nil && upd.TrustedSites == nil {
		return fmt.Errorf("nothing to update: pass --name, --picture or --trust")
	}

	u, err := apiClient.UpdateProfile(context.Background(), upd)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	printUser(cmd, u)
	return nil
}

func printUser(cmd *cobra.Command, u *models.User) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s <%s>\n", u.DisplayName(), u.Profile.Email)
	if u.Profile.Picture != "" {
		fmt.Fprintf(out, "Picture: %s\n", u.Profile.Picture)
	}
	if len(u.Profile.TrustedSites) > 0 {
		fmt.Fprintf(out, "Trusted sites: %s\n", strings.Join(u.Profile.TrustedSites, ", "))
	}
	if verbose && u.Profile.LastLoginAt != nil {
		fmt.Fprintf(out, "Last login: %s\n", u.Profile.LastLoginAt.Local().Format("2006-01-02 15:04"))
	}
}
