package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/marcelsud/webhook-dispatch/tenants"
)

/* validate-tenants - Standalone CLI tool to validate tenants.yaml
 * Usage: go run cmd/validate-tenants/main.go [tenants.yaml]
 * Exit codes: 0 = valid, 1 = invalid
 */

func main() {
	tenantsFile := "tenants.yaml"
	if len(os.Args) > 1 {
		tenantsFile = os.Args[1]
	}

	fmt.Printf("Validating tenants file: %s\n", tenantsFile)
	fmt.Println(strings.Repeat("-", 50))

	loader := tenants.NewLoader()
	if err := loader.Load(tenantsFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ VALIDATION FAILED\n\n")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loaded := loader.List()
	fmt.Printf("✓ VALIDATION PASSED\n\n")
	fmt.Printf("Loaded %d tenant(s):\n", len(loaded))

	for i, tenant := range loaded {
		policy := tenant.RetryPolicy(loader.Default)
		source := "default"
		if tenant.Policy != nil {
			source = "custom"
		}

		fmt.Printf("\n%d. Org: %s\n", i+1, tenant.OrgID)
		fmt.Printf("   Retry Policy:  %s (%s)\n", policy.Strategy, source)
		fmt.Printf("   Max Retries:   %d\n", policy.MaxRetries)
		fmt.Printf("   Delays:        %ds base, %ds max, jitter=%t\n", policy.BaseDelaySeconds, policy.MaxDelaySeconds, policy.Jitter)
		fmt.Printf("   Dead Letter:   %t\n", policy.DeadLetter)
		fmt.Printf("   Subscriptions: %d\n", len(tenant.Subscriptions))

		for _, s := range tenant.Subscriptions {
			fmt.Printf("     - %s -> %s [%s]\n", s.ID, s.URL, s.Status)
		}
	}

	fmt.Printf("\n✓ All tenants are valid!\n")
	os.Exit(0)
}
