package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/crm_backend/utils"
)

// Issues a signed API token for an organization, for scripted calls against
// the sync endpoints (curl, cron jobs, load tests). Signing secret comes from
// API_SECRET, lifetime from TOKEN_HOUR_LIFESPAN.
func main() {
	userID := flag.Int("user-id", 0, "User id to embed in the token (required).")
	organizationID := flag.String("organization-id", "", "Organization id to embed (required).")
	role := flag.String("role", "service", "Role claim.")
	hours := flag.Int("hours", 0, "Token lifetime in hours. Overrides TOKEN_HOUR_LIFESPAN.")
	flag.Parse()

	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "-user-id is required")
		os.Exit(2)
	}
	if strings.TrimSpace(*organizationID) == "" {
		fmt.Fprintln(os.Stderr, "-organization-id is required")
		os.Exit(2)
	}
	if *hours > 0 {
		os.Setenv("TOKEN_HOUR_LIFESPAN", fmt.Sprintf("%d", *hours))
	}

	token, err := utils.JwtGenerate(*userID, strings.TrimSpace(*organizationID), *role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
