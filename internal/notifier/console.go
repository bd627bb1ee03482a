package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/types"
	"fund-arbitrage-bot/lib/helpers"
	"fund-arbitrage-bot/lib/translation"
)

// Console prints alerts to a writer, stdout by default
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out}
}

func (c *Console) Name() string {
	return "console"
}

func (c *Console) Send(ctx context.Context, title, body string, records []types.FundRecord) error {
	rule := strings.Repeat("=", 60)

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n%s\n📢 %s\n%s\n%s\n", rule, title, rule, body)

	if len(records) > 0 {
		fmt.Fprintf(&sb, "\n📊 %s\n", translation.Translate("Fund details:"))
		for i, r := range records {
			fmt.Fprintf(&sb, "\n%d. %s (%s)\n", i+1, r.Name, r.Code)
			fmt.Fprintf(&sb, "   %s\n", translation.Translate("Premium/discount: %s", alert.RateLabel(r)))
			fmt.Fprintf(&sb, "   %s\n", translation.Translate("Market price: ¥%s", helpers.FormatPrice(r.MarketPrice, false)))
			fmt.Fprintf(&sb, "   %s\n", translation.Translate("Valuation: ¥%s", helpers.FormatPrice(r.Valuation, false)))
			fmt.Fprintf(&sb, "   %s\n", translation.Translate("Change: %s", helpers.FormatPercent(r.PriceChangePct, true)))
		}
	}
	sb.WriteString(rule + "\n")

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, sb.String())
	return err
}
