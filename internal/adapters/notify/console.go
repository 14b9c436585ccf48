package notify

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.JobNotifier y ports.AllocationNotifier escribiendo a un io.Writer.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return NewConsoleWriter(os.Stdout, table)
}

// NewConsoleWriter crea un notificador sobre w.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// NotifyAllocation imprime la asignación propuesta para un deployment.
func (c *Console) NotifyAllocation(_ context.Context, deploymentID string, r domain.AllocationResult) error {
	stamp := c.now().Format("15:04:05")
	if len(r.Positions) == 0 {
		fmt.Fprintf(c.out, "[%s] %s: no allocation\n", stamp, deploymentID)
		return nil
	}

	if !c.table {
		var sb strings.Builder
		fmt.Fprintf(&sb, "[%s] %s → $%s @ %.2f%% (swap $%s, %d iter)",
			stamp, deploymentID, r.TotalInvested.StringFixed(2), r.WeightedAPY,
			r.TotalSwapCost.StringFixed(4), r.Iterations)
		for i, p := range r.Positions {
			if i >= 4 {
				fmt.Fprintf(&sb, " | +%d more", len(r.Positions)-i)
				break
			}
			fmt.Fprintf(&sb, " | %s $%s %.2f%%", shortID(p.OpportunityID, 28), p.Amount.StringFixed(2), p.APY)
		}
		fmt.Fprintln(c.out, sb.String())
		return nil
	}

	fmt.Fprintf(c.out, "\n[%s] allocation for %s — %d positions\n", stamp, deploymentID, len(r.Positions))
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Opportunity", "Kind", "Protocol", "Amount", "APY", "Share")
	for i, p := range r.Positions {
		share := 0.0
		if r.TotalInvested.IsPositive() {
			share = p.Amount.Div(r.TotalInvested).InexactFloat64() * 100
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			shortID(p.OpportunityID, 40),
			p.Kind.String(),
			p.Protocol,
			"$"+p.Amount.StringFixed(2),
			fmt.Sprintf("%.2f%%", p.APY),
			fmt.Sprintf("%.1f%%", share),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  Invested: $%s  Weighted APY: %.2f%%  Swap cost: $%s  Iterations: %d\n\n",
		r.TotalInvested.StringFixed(2), r.WeightedAPY, r.TotalSwapCost.StringFixed(4), r.Iterations)
	return nil
}

// NotifyJob imprime una línea por cambio de estado de un job.
func (c *Console) NotifyJob(_ context.Context, job domain.RebalanceJob) error {
	line := fmt.Sprintf("[%s] job %s %s %s", c.now().Format("15:04:05"), shortID(job.ID, 8), job.DeploymentID, statusLabel(job.Status))
	if job.ErrorMessage != "" {
		line += ": " + truncate(job.ErrorMessage, 120)
	}
	fmt.Fprintln(c.out, line)
	return nil
}

// PrintOpportunities imprime las oportunidades candidatas de un ciclo.
func (c *Console) PrintOpportunities(opps []domain.Opportunity) {
	if len(opps) == 0 {
		fmt.Fprintln(c.out, "  No opportunities found.")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Opportunity", "Kind", "Base APY", "Max", "Tokens", "Flags")
	for i, o := range opps {
		maxLabel := "-"
		if o.MaxAmount.IsPositive() {
			maxLabel = "$" + o.MaxAmount.StringFixed(0)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			shortID(o.ID, 40),
			o.Kind.String(),
			fmt.Sprintf("%.2f%%", o.BaseAPY),
			maxLabel,
			strings.Join(o.TargetTokens, "/"),
			flagLabel(o.RiskFlags),
		)
	}
	table.Render()
}

// PrintHistory imprime los jobs más recientes.
func (c *Console) PrintHistory(jobs []domain.RebalanceJob) {
	if len(jobs) == 0 {
		fmt.Fprintln(c.out, "\n  No rebalance jobs recorded.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Job", "Deployment", "Trigger", "Status", "Created", "Took", "Error")
	counts := make(map[domain.JobStatus]int)
	for _, j := range jobs {
		counts[j.Status]++
		took := "-"
		if j.CompletedAt != nil {
			took = durationLabel(j.CompletedAt.Sub(j.CreatedAt))
		}
		table.Append(
			shortID(j.ID, 8),
			j.DeploymentID,
			string(j.Trigger),
			statusLabel(j.Status),
			j.CreatedAt.Local().Format("01-02 15:04"),
			took,
			truncate(j.ErrorMessage, 48),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "  %d jobs: %d completed, %d failed, %d rejected, %d open\n\n",
		len(jobs), counts[domain.JobCompleted], counts[domain.JobFailed], counts[domain.JobRejected],
		len(jobs)-counts[domain.JobCompleted]-counts[domain.JobFailed]-counts[domain.JobRejected])
}

// --- helpers ---

func statusLabel(s domain.JobStatus) string {
	switch s {
	case domain.JobCompleted:
		return "COMPLETED"
	case domain.JobFailed:
		return "FAILED"
	case domain.JobRejected:
		return "REJECTED"
	default:
		return strings.ToUpper(string(s))
	}
}

func flagLabel(flags []domain.RiskFlag) string {
	if len(flags) == 0 {
		return ""
	}
	codes := make([]string, 0, len(flags))
	for _, f := range flags {
		code := f.Code
		if f.Severity == domain.SeverityCritical {
			code = "!" + code
		}
		codes = append(codes, code)
	}
	return strings.Join(codes, ",")
}

func durationLabel(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", math.Max(d.Seconds(), 0))
	}
	return d.Round(time.Second).String()
}

func shortID(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
