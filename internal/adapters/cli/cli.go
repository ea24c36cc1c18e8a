package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"subscription-ledger/internal/app"
	"subscription-ledger/internal/core"
)

// New builds the command tree for one-shot ledger commands. Every command
// resolves the service through svc so callers can defer opening the store
// until a command actually runs.
func New(svc func() (app.ApplicationService, error)) *cobra.Command {
	c := &commands{svc: svc}
	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Subscription billing ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print results as JSON")

	root.AddCommand(
		c.customersCmd(),
		c.plansCmd(),
		c.subscriptionsCmd(),
		c.generateCmd(),
		c.accrualsCmd(),
		c.payCmd(),
		c.paymentsCmd(),
		c.allocateCmd(),
		c.deallocateCmd(),
		c.adjustCmd(),
		c.balanceCmd(),
		c.statementCmd(),
		c.delinquentsCmd(),
		c.collectionsCmd(),
		c.dashboardCmd(),
		c.exportCmd(),
	)
	return root
}

type commands struct {
	svc    func() (app.ApplicationService, error)
	asJSON bool
}

// run resolves the service and hands it to fn.
func (c *commands) run(fn func(cmd *cobra.Command, svc app.ApplicationService, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, err := c.svc()
		if err != nil {
			return err
		}
		return fn(cmd, svc, args)
	}
}

// emit prints v as JSON when --json is set, otherwise calls text.
func (c *commands) emit(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if c.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || id <= 0 {
		return 0, &core.ValidationError{Field: "id", Message: fmt.Sprintf("invalid id %q", s)}
	}
	return id, nil
}

func parseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &core.ValidationError{Field: field, Message: fmt.Sprintf("invalid amount %q", s)}
	}
	return d, nil
}

// ── Customers ─────────────────────────────────────────────────────────────────

func (c *commands) customersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "customers", Aliases: []string{"cust"}, Short: "Manage customers"}

	var activeOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List customers",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			res, err := svc.ListCustomers(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "%-6s %-30s %-16s %-28s %s\n", "ID", "NAME", "TAX ID", "EMAIL", "ACTIVE")
				fmt.Fprintln(w, strings.Repeat("-", 90))
				for _, cu := range res.Customers {
					fmt.Fprintf(w, "%-6d %-30s %-16s %-28s %t\n", cu.ID, cu.Name, cu.TaxID, cu.Email, cu.Active)
				}
			})
		}),
	}
	list.Flags().BoolVar(&activeOnly, "active", false, "only active customers")

	var req app.CustomerRequest
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a customer",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			res, err := svc.CreateCustomer(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Customer %d created: %s\n", res.Customer.ID, res.Customer.Name)
			})
		}),
	}
	add.Flags().StringVar(&req.Name, "name", "", "customer name")
	add.Flags().StringVar(&req.TaxID, "tax-id", "", "tax identifier")
	add.Flags().StringVar(&req.ContactPerson, "contact", "", "contact person")
	add.Flags().StringVar(&req.Email, "email", "", "email address")
	add.Flags().StringVar(&req.Phone, "phone", "", "phone number")
	add.Flags().StringVar(&req.Address, "address", "", "postal address")
	add.Flags().StringVar(&req.Notes, "notes", "", "free-form notes")
	_ = add.MarkFlagRequired("name")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show one customer",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := svc.GetCustomer(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) { printCustomer(w, res.Customer) })
		}),
	}

	cmd.AddCommand(list, add, show,
		c.toggleCmd("activate", true, func(cmd *cobra.Command, svc app.ApplicationService, id int, on bool) (any, error) {
			return svc.SetCustomerActive(cmd.Context(), id, on)
		}),
		c.toggleCmd("deactivate", false, func(cmd *cobra.Command, svc app.ApplicationService, id int, on bool) (any, error) {
			return svc.SetCustomerActive(cmd.Context(), id, on)
		}),
		c.deleteCmd("customer", func(cmd *cobra.Command, svc app.ApplicationService, id int) error {
			return svc.DeleteCustomer(cmd.Context(), id)
		}),
	)
	return cmd
}

func printCustomer(w io.Writer, cu *core.Customer) {
	fmt.Fprintf(w, "ID       : %d\n", cu.ID)
	fmt.Fprintf(w, "Name     : %s\n", cu.Name)
	fmt.Fprintf(w, "Tax ID   : %s\n", cu.TaxID)
	fmt.Fprintf(w, "Contact  : %s\n", cu.ContactPerson)
	fmt.Fprintf(w, "Email    : %s\n", cu.Email)
	fmt.Fprintf(w, "Phone    : %s\n", cu.Phone)
	fmt.Fprintf(w, "Address  : %s\n", cu.Address)
	fmt.Fprintf(w, "Active   : %t\n", cu.Active)
}

func (c *commands) toggleCmd(name string, on bool, fn func(*cobra.Command, app.ApplicationService, int, bool) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name + " ID",
		Short: strings.ToUpper(name[:1]) + name[1:],
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := fn(cmd, svc, id, on)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) { fmt.Fprintf(w, "%d %sd.\n", id, name) })
		}),
	}
}

func (c *commands) deleteCmd(entity string, fn func(*cobra.Command, app.ApplicationService, int) error) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a " + entity + " with no ledger history",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := fn(cmd, svc, id); err != nil {
				return err
			}
			return c.emit(cmd, map[string]int{"deleted": id}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %d deleted.\n", strings.ToUpper(entity[:1])+entity[1:], id)
			})
		}),
	}
}

// ── Plans ─────────────────────────────────────────────────────────────────────

func (c *commands) plansCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plans", Short: "Manage plans"}

	var activeOnly bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			res, err := svc.ListPlans(cmd.Context(), activeOnly)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "%-6s %-30s %-10s %12s %s\n", "ID", "NAME", "EVERY", "AMOUNT", "ACTIVE")
				fmt.Fprintln(w, strings.Repeat("-", 70))
				for _, p := range res.Plans {
					fmt.Fprintf(w, "%-6d %-30s %-10s %12s %t\n", p.ID, p.Name, p.Periodicity, p.BaseAmount.StringFixed(2), p.Active)
				}
			})
		}),
	}
	list.Flags().BoolVar(&activeOnly, "active", false, "only active plans")

	var (
		req    app.PlanRequest
		amount string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a plan",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			d, err := parseAmount("base_amount", amount)
			if err != nil {
				return err
			}
			req.BaseAmount = d
			res, err := svc.CreatePlan(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Plan %d created: %s %s %s\n", res.Plan.ID, res.Plan.Name, res.Plan.BaseAmount.StringFixed(2), res.Plan.Periodicity)
			})
		}),
	}
	add.Flags().StringVar(&req.Name, "name", "", "plan name")
	add.Flags().StringVar(&req.Description, "description", "", "plan description")
	add.Flags().StringVar(&amount, "amount", "", "base amount per billing cycle")
	add.Flags().StringVar(&req.Periodicity, "periodicity", "monthly", "monthly, quarterly or yearly")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("amount")

	cmd.AddCommand(list, add,
		c.toggleCmd("activate", true, func(cmd *cobra.Command, svc app.ApplicationService, id int, on bool) (any, error) {
			return svc.SetPlanActive(cmd.Context(), id, on)
		}),
		c.toggleCmd("deactivate", false, func(cmd *cobra.Command, svc app.ApplicationService, id int, on bool) (any, error) {
			return svc.SetPlanActive(cmd.Context(), id, on)
		}),
		c.deleteCmd("plan", func(cmd *cobra.Command, svc app.ApplicationService, id int) error {
			return svc.DeletePlan(cmd.Context(), id)
		}),
	)
	return cmd
}

// ── Subscriptions ─────────────────────────────────────────────────────────────

func (c *commands) subscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "subscriptions", Aliases: []string{"subs"}, Short: "Manage subscriptions"}

	var (
		customerID int
		activeOnly bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			res, err := svc.ListSubscriptions(cmd.Context(), customerID, activeOnly)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "%-6s %-9s %-6s %-10s %-10s %12s %s\n", "ID", "CUSTOMER", "PLAN", "START", "END", "OVERRIDE", "ACTIVE")
				fmt.Fprintln(w, strings.Repeat("-", 70))
				for _, s := range res.Subscriptions {
					end, override := "-", "-"
					if s.EndDate != nil {
						end = s.EndDate.Format("2006-01-02")
					}
					if s.PriceOverride != nil {
						override = s.PriceOverride.StringFixed(2)
					}
					fmt.Fprintf(w, "%-6d %-9d %-6d %-10s %-10s %12s %t\n", s.ID, s.CustomerID, s.PlanID, s.StartDate.Format("2006-01-02"), end, override, s.Active)
				}
			})
		}),
	}
	list.Flags().IntVar(&customerID, "customer", 0, "filter by customer id")
	list.Flags().BoolVar(&activeOnly, "active", false, "only active subscriptions")

	var (
		req   app.SubscribeRequest
		price string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Subscribe a customer to a plan",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			if price != "" {
				d, err := parseAmount("price_override", price)
				if err != nil {
					return err
				}
				req.PriceOverride = &d
			}
			res, err := svc.Subscribe(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Subscription %d created for customer %d on plan %d.\n", res.Subscription.ID, res.Subscription.CustomerID, res.Subscription.PlanID)
			})
		}),
	}
	add.Flags().IntVar(&req.CustomerID, "customer", 0, "customer id")
	add.Flags().IntVar(&req.PlanID, "plan", 0, "plan id")
	add.Flags().StringVar(&req.StartDate, "start", "", "start date YYYY-MM-DD (default today)")
	add.Flags().StringVar(&req.EndDate, "end", "", "optional end date YYYY-MM-DD")
	add.Flags().StringVar(&price, "price", "", "price override per billing cycle")
	add.Flags().StringVar(&req.Notes, "notes", "", "free-form notes")
	_ = add.MarkFlagRequired("customer")
	_ = add.MarkFlagRequired("plan")

	var (
		end, newPrice string
		clearPrice    bool
	)
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Change a subscription's end date or price override",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var req app.UpdateSubscriptionRequest
			if cmd.Flags().Changed("end") {
				req.EndDate = &end
			}
			if newPrice != "" {
				d, err := parseAmount("price_override", newPrice)
				if err != nil {
					return err
				}
				req.PriceOverride = &d
			}
			req.ClearPriceOverride = clearPrice
			res, err := svc.UpdateSubscription(cmd.Context(), id, req)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) { fmt.Fprintf(w, "Subscription %d updated.\n", id) })
		}),
	}
	update.Flags().StringVar(&end, "end", "", "end date YYYY-MM-DD, empty clears it")
	update.Flags().StringVar(&newPrice, "price", "", "new price override")
	update.Flags().BoolVar(&clearPrice, "clear-price", false, "remove the price override")

	cmd.AddCommand(list, add, update,
		c.toggleCmd("activate", true, func(cmd *cobra.Command, svc app.ApplicationService, id int, on bool) (any, error) {
			return svc.SetSubscriptionActive(cmd.Context(), id, on)
		}),
		c.toggleCmd("deactivate", false, func(cmd *cobra.Command, svc app.ApplicationService, id int, on bool) (any, error) {
			return svc.SetSubscriptionActive(cmd.Context(), id, on)
		}),
		c.deleteCmd("subscription", func(cmd *cobra.Command, svc app.ApplicationService, id int) error {
			return svc.DeleteSubscription(cmd.Context(), id)
		}),
	)
	return cmd
}

// ── Accruals ──────────────────────────────────────────────────────────────────

func (c *commands) generateCmd() *cobra.Command {
	var req app.GenerateAccrualsRequest
	cmd := &cobra.Command{
		Use:     "generate",
		Aliases: []string{"gen"},
		Short:   "Generate accruals for a period",
		Args:    cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			res, err := svc.GenerateAccruals(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Period %s: %d created, %d already present, %d skipped\n",
					res.Period, len(res.Created), len(res.Duplicates), len(res.Skipped))
				for _, a := range res.Created {
					fmt.Fprintf(w, "  + accrual %-6d customer %-6d %12s\n", a.ID, a.CustomerID, a.Amount.StringFixed(2))
				}
				for _, d := range res.Duplicates {
					fmt.Fprintf(w, "  = subscription %-6d already billed as accrual %d\n", d.SubscriptionID, d.ExistingID)
				}
				for _, s := range res.Skipped {
					fmt.Fprintf(w, "  - subscription %-6d %s\n", s.SubscriptionID, s.Reason)
				}
			})
		}),
	}
	cmd.Flags().StringVar(&req.Period, "period", "", "billing period YYYY-MM (default current)")
	cmd.Flags().IntSliceVar(&req.SubscriptionIDs, "subscription", nil, "limit to these subscription ids")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "notes stamped on each accrual")
	return cmd
}

func (c *commands) accrualsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "accruals", Short: "Inspect accruals"}

	var q app.AccrualQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List accruals",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			res, err := svc.ListAccruals(cmd.Context(), q)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "%-6s %-9s %-6s %-8s %-10s %12s %s\n", "ID", "CUSTOMER", "SUB", "PERIOD", "DATE", "AMOUNT", "STATUS")
				fmt.Fprintln(w, strings.Repeat("-", 72))
				for _, a := range res.Accruals {
					fmt.Fprintf(w, "%-6d %-9d %-6d %-8s %-10s %12s %s\n", a.ID, a.CustomerID, a.SubscriptionID, a.Period,
						a.AccrualDate.Format("2006-01-02"), a.Amount.StringFixed(2), a.Status)
				}
			})
		}),
	}
	list.Flags().IntVar(&q.CustomerID, "customer", 0, "filter by customer id")
	list.Flags().IntVar(&q.SubscriptionID, "subscription", 0, "filter by subscription id")
	list.Flags().StringVar(&q.Period, "period", "", "filter by period YYYY-MM")
	list.Flags().StringVar(&q.Status, "status", "", "filter by status")
	list.Flags().BoolVar(&q.OpenOnly, "open", false, "only pending or partially paid")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show an accrual with its payments and adjustments",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := svc.GetAccrual(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) { printPosition(w, res.Position) })
		}),
	}

	cancel := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an accrual with no allocations",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := svc.CancelAccrual(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) { fmt.Fprintf(w, "Accrual %d cancelled.\n", id) })
		}),
	}

	cmd.AddCommand(list, show, cancel, c.deleteCmd("accrual", func(cmd *cobra.Command, svc app.ApplicationService, id int) error {
		return svc.DeleteAccrual(cmd.Context(), id)
	}))
	return cmd
}

func printPosition(w io.Writer, p *core.AccrualPosition) {
	a := p.Accrual
	fmt.Fprintf(w, "Accrual %d  customer %d  subscription %d  period %s  %s\n", a.ID, a.CustomerID, a.SubscriptionID, a.Period, a.Status)
	fmt.Fprintf(w, "  Amount       %12s\n", a.Amount.StringFixed(2))
	for _, adj := range p.Adjustments {
		fmt.Fprintf(w, "  %-12s %12s  %s\n", adj.Kind, adj.Effect().StringFixed(2), adj.Reason)
	}
	fmt.Fprintf(w, "  Effective    %12s\n", p.EffectiveOwed.StringFixed(2))
	fmt.Fprintf(w, "  Paid         %12s\n", p.Paid.StringFixed(2))
	fmt.Fprintf(w, "  Outstanding  %12s\n", p.Outstanding.StringFixed(2))
}

// ── Payments and allocation ───────────────────────────────────────────────────

func (c *commands) payCmd() *cobra.Command {
	var (
		req    app.RegisterPaymentRequest
		amount string
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Register a payment",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			d, err := parseAmount("amount", amount)
			if err != nil {
				return err
			}
			req.Amount = d
			res, err := svc.RegisterPayment(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "Payment %d registered: %s (%s)\n", res.Payment.ID, res.Payment.Amount.StringFixed(2), res.State)
				if res.Allocation != nil {
					printAllocation(w, res.Allocation)
				}
			})
		}),
	}
	cmd.Flags().IntVar(&req.CustomerID, "customer", 0, "customer id")
	cmd.Flags().StringVar(&amount, "amount", "", "amount received")
	cmd.Flags().StringVar(&req.PaymentDate, "date", "", "payment date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&req.Method, "method", "", "payment method")
	cmd.Flags().StringVar(&req.Reference, "ref", "", "external reference")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "free-form notes")
	cmd.Flags().BoolVar(&req.AutoAllocate, "auto", false, "allocate to the oldest open accruals")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (c *commands) paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "payments", Short: "Inspect payments"}

	var q app.PaymentQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List payments",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			res, err := svc.ListPayments(cmd.Context(), q)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				fmt.Fprintf(w, "%-6s %-9s %-10s %12s %12s %-12s %s\n", "ID", "CUSTOMER", "DATE", "AMOUNT", "REMAINING", "METHOD", "REFERENCE")
				fmt.Fprintln(w, strings.Repeat("-", 80))
				for _, p := range res.Payments {
					fmt.Fprintf(w, "%-6d %-9d %-10s %12s %12s %-12s %s\n", p.ID, p.CustomerID, p.PaymentDate.Format("2006-01-02"),
						p.Amount.StringFixed(2), p.Remaining.StringFixed(2), p.Method, p.Reference)
				}
			})
		}),
	}
	list.Flags().IntVar(&q.CustomerID, "customer", 0, "filter by customer id")
	list.Flags().StringVar(&q.From, "from", "", "first payment date YYYY-MM-DD")
	list.Flags().StringVar(&q.To, "to", "", "last payment date YYYY-MM-DD")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a payment and its allocations",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := svc.GetPayment(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				p := res.Payment
				fmt.Fprintf(w, "Payment %d  customer %d  %s  %s\n", p.ID, p.CustomerID, p.PaymentDate.Format("2006-01-02"), res.State)
				fmt.Fprintf(w, "  Amount     %12s\n", p.Amount.StringFixed(2))
				fmt.Fprintf(w, "  Remaining  %12s\n", p.Remaining.StringFixed(2))
				for _, a := range res.Allocations {
					fmt.Fprintf(w, "  allocation %-6d -> accrual %-6d %12s\n", a.ID, a.AccrualID, a.Amount.StringFixed(2))
				}
			})
		}),
	}

	cmd.AddCommand(list, show, c.deleteCmd("payment", func(cmd *cobra.Command, svc app.ApplicationService, id int) error {
		return svc.DeletePayment(cmd.Context(), id)
	}))
	return cmd
}

func (c *commands) allocateCmd() *cobra.Command {
	var (
		lines []string
		date  string
	)
	cmd := &cobra.Command{
		Use:   "allocate PAYMENT_ID",
		Short: "Allocate a payment automatically or with --line ACCRUAL_ID:AMOUNT",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var res *core.AllocationResult
			if len(lines) == 0 {
				res, err = svc.AllocateAuto(cmd.Context(), id, date)
			} else {
				req := app.ManualAllocationRequest{PaymentID: id, Date: date}
				for _, l := range lines {
					in, err := parseLine(l)
					if err != nil {
						return err
					}
					req.Lines = append(req.Lines, in)
				}
				res, err = svc.AllocateManual(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) { printAllocation(w, res) })
		}),
	}
	cmd.Flags().StringArrayVar(&lines, "line", nil, "manual line ACCRUAL_ID:AMOUNT (repeatable)")
	cmd.Flags().StringVar(&date, "date", "", "allocation date YYYY-MM-DD (default today)")
	return cmd
}

func parseLine(s string) (app.AllocationLineInput, error) {
	idPart, amountPart, ok := strings.Cut(s, ":")
	if !ok {
		return app.AllocationLineInput{}, &core.ValidationError{Field: "line", Message: fmt.Sprintf("expected ACCRUAL_ID:AMOUNT, got %q", s)}
	}
	id, err := parseID(idPart)
	if err != nil {
		return app.AllocationLineInput{}, err
	}
	amount, err := parseAmount("line", amountPart)
	if err != nil {
		return app.AllocationLineInput{}, err
	}
	return app.AllocationLineInput{AccrualID: id, Amount: amount}, nil
}

func printAllocation(w io.Writer, res *core.AllocationResult) {
	for _, a := range res.Allocations {
		fmt.Fprintf(w, "  allocation %-6d -> accrual %-6d %12s\n", a.ID, a.AccrualID, a.Amount.StringFixed(2))
	}
	fmt.Fprintf(w, "Allocated %s, remaining %s\n", res.TotalAllocated.StringFixed(2), res.Remaining.StringFixed(2))
}

func (c *commands) deallocateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deallocate ALLOCATION_ID",
		Short: "Undo one allocation",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := svc.Deallocate(cmd.Context(), id)
			if err != nil {
				return err
			}
			return c.emit(cmd, a, func(w io.Writer) {
				fmt.Fprintf(w, "Allocation %d removed: %s returned to payment %d.\n", a.ID, a.Amount.StringFixed(2), a.PaymentID)
			})
		}),
	}
}

// ── Adjustments ───────────────────────────────────────────────────────────────

func (c *commands) adjustCmd() *cobra.Command {
	var (
		req       app.AdjustmentRequest
		accrualID int
		amount    string
	)
	cmd := &cobra.Command{
		Use:   "adjust",
		Short: "Apply a bonus, surcharge or credit/debit note",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			d, err := parseAmount("amount", amount)
			if err != nil {
				return err
			}
			req.Amount = d
			if accrualID > 0 {
				req.AccrualID = &accrualID
			}
			adj, err := svc.ApplyAdjustment(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.emit(cmd, adj, func(w io.Writer) {
				fmt.Fprintf(w, "Adjustment %d recorded: %s %s\n", adj.ID, adj.Kind, adj.Effect().StringFixed(2))
			})
		}),
	}
	cmd.Flags().IntVar(&req.CustomerID, "customer", 0, "customer id")
	cmd.Flags().IntVar(&accrualID, "accrual", 0, "accrual id (omit for a customer-wide adjustment)")
	cmd.Flags().StringVar(&req.Kind, "kind", "", "BONUS, SURCHARGE, CREDIT_NOTE, DEBIT_NOTE or OTHER")
	cmd.Flags().StringVar(&amount, "amount", "", "adjustment amount")
	cmd.Flags().StringVar(&req.Date, "date", "", "adjustment date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&req.Reason, "reason", "", "reason shown on statements")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// ── Reports ───────────────────────────────────────────────────────────────────

func (c *commands) balanceCmd() *cobra.Command {
	var (
		asOf   string
		credit bool
	)
	cmd := &cobra.Command{
		Use:     "balance CUSTOMER_ID",
		Aliases: []string{"bal"},
		Short:   "Show what a customer owes",
		Args:    cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := svc.GetBalance(cmd.Context(), id, asOf, credit)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				b := res.Balance
				fmt.Fprintln(w, strings.Repeat("=", 40))
				fmt.Fprintf(w, "  Customer %d as of %s (%s)\n", b.CustomerID, b.AsOf.Format("2006-01-02"), res.Currency)
				fmt.Fprintln(w, strings.Repeat("=", 40))
				fmt.Fprintf(w, "  %-20s %15s\n", "Accrued", b.Accrued.StringFixed(2))
				fmt.Fprintf(w, "  %-20s %15s\n", "Adjustments", b.Adjustments.StringFixed(2))
				fmt.Fprintf(w, "  %-20s %15s\n", "Allocated", b.Allocated.StringFixed(2))
				fmt.Fprintf(w, "  %-20s %15s\n", "Owed", b.Owed.StringFixed(2))
				fmt.Fprintf(w, "  %-20s %15s\n", "Credit on account", b.CreditOnAccount.StringFixed(2))
				if b.Net != nil {
					fmt.Fprintf(w, "  %-20s %15s\n", "Net", b.Net.StringFixed(2))
				}
				fmt.Fprintln(w, strings.Repeat("=", 40))
			})
		}),
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "date YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&credit, "credit", false, "net unallocated payments against the balance")
	return cmd
}

func (c *commands) statementCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "statement CUSTOMER_ID",
		Short: "Print a customer's account statement",
		Args:  cobra.ExactArgs(1),
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := svc.GetStatement(cmd.Context(), id, from, to)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				st := res.Statement
				fmt.Fprintln(w, strings.Repeat("=", 84))
				fmt.Fprintf(w, "  STATEMENT  %s  (%s)\n", st.Customer.Name, res.Currency)
				fmt.Fprintln(w, strings.Repeat("=", 84))
				fmt.Fprintf(w, "  %-10s %-36s %10s %10s %12s\n", "DATE", "DESCRIPTION", "DEBIT", "CREDIT", "BALANCE")
				fmt.Fprintln(w, strings.Repeat("-", 84))
				fmt.Fprintf(w, "  %-10s %-36s %10s %10s %12s\n", "", "Opening balance", "", "", st.OpeningBalance.StringFixed(2))
				for _, l := range st.Lines {
					fmt.Fprintf(w, "  %-10s %-36s %10s %10s %12s\n", l.Date.Format("2006-01-02"), l.Description,
						blankZero(l.Debit), blankZero(l.Credit), l.RunningBalance.StringFixed(2))
				}
				fmt.Fprintln(w, strings.Repeat("-", 84))
				fmt.Fprintf(w, "  %-10s %-36s %10s %10s %12s\n", "", "Closing balance",
					st.TotalDebit.StringFixed(2), st.TotalCredit.StringFixed(2), st.ClosingBalance.StringFixed(2))
			})
		}),
	}
	cmd.Flags().StringVar(&from, "from", "", "first date YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last date YYYY-MM-DD")
	return cmd
}

func blankZero(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.StringFixed(2)
}

func (c *commands) delinquentsCmd() *cobra.Command {
	var (
		asOf string
		days int
	)
	cmd := &cobra.Command{
		Use:   "delinquents",
		Short: "List customers with overdue accruals",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			var d *int
			if cmd.Flags().Changed("days") {
				d = &days
			}
			res, err := svc.GetDelinquents(cmd.Context(), asOf, d)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				r := res.Report
				fmt.Fprintf(w, "Overdue more than %d days as of %s (%s)\n", r.Days, r.AsOf.Format("2006-01-02"), res.Currency)
				fmt.Fprintf(w, "%-6s %-30s %8s %-8s %12s\n", "ID", "CUSTOMER", "ACCRUALS", "OLDEST", "OVERDUE")
				fmt.Fprintln(w, strings.Repeat("-", 70))
				for _, dc := range r.Customers {
					fmt.Fprintf(w, "%-6d %-30s %8d %-8s %12s\n", dc.Customer.ID, dc.Customer.Name, dc.OverdueAccruals, dc.OldestPeriod, dc.OverdueAmount.StringFixed(2))
				}
				fmt.Fprintln(w, strings.Repeat("-", 70))
				fmt.Fprintf(w, "%-56s %12s\n", "TOTAL", r.Total.StringFixed(2))
			})
		}),
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "date YYYY-MM-DD (default today)")
	cmd.Flags().IntVar(&days, "days", 0, "grace period in days (default from config)")
	return cmd
}

func (c *commands) collectionsCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "collections",
		Short: "Summarise payments received in a period",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			res, err := svc.GetCollections(cmd.Context(), period)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				r := res.Report
				fmt.Fprintf(w, "Collections %s (%s)\n", r.Period, res.Currency)
				fmt.Fprintf(w, "%-20s %8s %14s\n", "METHOD", "COUNT", "AMOUNT")
				fmt.Fprintln(w, strings.Repeat("-", 44))
				for _, m := range r.ByMethod {
					fmt.Fprintf(w, "%-20s %8d %14s\n", m.Method, m.Count, m.Amount.StringFixed(2))
				}
				fmt.Fprintln(w, strings.Repeat("-", 44))
				fmt.Fprintf(w, "%-20s %8d %14s\n", "TOTAL", r.Count, r.Total.StringFixed(2))
			})
		}),
	}
	cmd.Flags().StringVar(&period, "period", "", "period YYYY-MM (default current)")
	return cmd
}

func (c *commands) dashboardCmd() *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show headline ledger figures",
		Args:  cobra.NoArgs,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, _ []string) error {
			res, err := svc.GetDashboard(cmd.Context(), asOf)
			if err != nil {
				return err
			}
			return c.emit(cmd, res, func(w io.Writer) {
				d := res.Dashboard
				fmt.Fprintf(w, "Dashboard %s, period %s (%s)\n", d.AsOf.Format("2006-01-02"), d.Period, res.Currency)
				fmt.Fprintf(w, "  %-24s %12d\n", "Active customers", d.ActiveCustomers)
				fmt.Fprintf(w, "  %-24s %12d\n", "Active plans", d.ActivePlans)
				fmt.Fprintf(w, "  %-24s %12d\n", "Active subscriptions", d.ActiveSubscriptions)
				fmt.Fprintf(w, "  %-24s %12s\n", "Accrued this period", d.AccruedThisPeriod.StringFixed(2))
				fmt.Fprintf(w, "  %-24s %12s\n", "Collected this period", d.CollectedThisPeriod.StringFixed(2))
				fmt.Fprintf(w, "  %-24s %12s\n", "Total owed", d.TotalOwed.StringFixed(2))
				fmt.Fprintf(w, "  %-24s %12s\n", "Total credit", d.TotalCredit.StringFixed(2))
			})
		}),
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "date YYYY-MM-DD (default today)")
	return cmd
}

func (c *commands) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:       "export TABLE",
		Short:     "Write a table as CSV",
		Args:      cobra.ExactArgs(1),
		ValidArgs: core.ExportTables,
		RunE: c.run(func(cmd *cobra.Command, svc app.ApplicationService, args []string) error {
			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			return svc.ExportCSV(cmd.Context(), args[0], w)
		}),
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
