package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/internal/app"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
)

const usage = `usage:
  cli dispatch <delivery_id> <webhook_id> <org_id>   attempt one delivery now
  cli preview <org_id>                               show the retry schedule of an org
  cli sign <secret> <timestamp> <body>               compute a signature header value
  cli secret                                         generate a new signing secret`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}

	var err error
	switch args := os.Args[2:]; os.Args[1] {
	case "dispatch":
		err = withApp(func(ctx context.Context, a *app.App) error { return dispatch(ctx, a, args) })
	case "preview":
		err = withApp(func(ctx context.Context, a *app.App) error { return preview(ctx, a, args) })
	case "sign":
		err = sign(args)
	case "secret":
		err = secret()
	default:
		err = fmt.Errorf("unknown command %q\n\n%s", os.Args[1], usage)
	}

	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func withApp(run func(context.Context, *app.App) error) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := app.New(ctx, cfg, "webhook-cli")
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	return run(ctx, a)
}

func dispatch(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("dispatch needs <delivery_id> <webhook_id> <org_id>")
	}
	t := webhook.Trigger{DeliveryID: args[0], WebhookID: args[1], OrgID: args[2]}

	res, err := a.Service.Dispatch(ctx, t)
	if err != nil {
		return err
	}
	d, err := a.Service.Get(ctx, t.OrgID, t.DeliveryID)
	if err != nil {
		return err
	}

	fmt.Printf("success=%t status=%d delivery_status=%s attempt=%d\n", res.Success, res.Status, d.Status, d.AttemptNumber)
	if !d.NextRetryAt.IsZero() {
		fmt.Printf("next retry at %s\n", d.NextRetryAt.Format(time.RFC3339))
	}
	return nil
}

func preview(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("preview needs <org_id>")
	}

	p, err := a.Service.PreviewRetries(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("org %s: %s, %d retries, base %ds, max %ds, jitter=%t, dead_letter=%t\n",
		p.Policy.OrgID, p.Policy.Strategy, p.Policy.MaxRetries,
		p.Policy.BaseDelaySeconds, p.Policy.MaxDelaySeconds, p.Policy.Jitter, p.Policy.DeadLetter)
	for i, d := range p.Delays {
		fmt.Printf("  retry %d: +%s\n", i+1, d)
	}
	fmt.Printf("total %s (up to %s with jitter)\n", p.Total, p.MaxTotal)
	return nil
}

func sign(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("sign needs <secret> <timestamp> <body>")
	}

	s, err := signature.Sign(args[0], args[1], []byte(args[2]))
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}

func secret() error {
	s, err := signature.GenerateSecret(32)
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}
