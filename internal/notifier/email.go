package notifier

import (
	"bytes"
	"context"
	"html/template"
	"io"
	"strings"
	"time"

	"fund-arbitrage-bot/internal/alert"
	"fund-arbitrage-bot/internal/chart"
	"fund-arbitrage-bot/internal/types"
	"fund-arbitrage-bot/lib/helpers"
	"fund-arbitrage-bot/lib/translation"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// MailSender delivers composed messages; *gomail.Dialer satisfies it
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailConfig struct {
	Host string
	Port int
	User string
	Pass string
	// To is a comma separated recipient list; the sender address is used when empty
	To string
}

// Email sends alerts as multipart mail with a plain text and an HTML part
type Email struct {
	from     string
	to       []string
	sender   MailSender
	location *time.Location
	chart    bool
}

type EmailOption func(*Email)

// WithMailSender replaces the SMTP dialer
func WithMailSender(s MailSender) EmailOption {
	return func(e *Email) {
		e.sender = s
	}
}

// WithChartAttachment attaches a discount bar chart to alert mails
func WithChartAttachment() EmailOption {
	return func(e *Email) {
		e.chart = true
	}
}

func WithEmailLocation(loc *time.Location) EmailOption {
	return func(e *Email) {
		e.location = loc
	}
}

func NewEmail(cfg EmailConfig, opts ...EmailOption) (*Email, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, errors.New("smtp host and user are required")
	}

	var to []string
	for _, addr := range strings.Split(cfg.To, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	if len(to) == 0 {
		to = []string{cfg.User}
	}

	e := &Email{
		from:     cfg.User,
		to:       to,
		sender:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass),
		location: time.UTC,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Email) Name() string {
	return "email"
}

func (e *Email) Send(ctx context.Context, title, body string, records []types.FundRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.to...)
	m.SetHeader("Subject", title)
	m.SetBody("text/plain", body)

	html, err := renderEmailHTML(title, body, records, time.Now(), e.location)
	if err != nil {
		return err
	}
	m.AddAlternative("text/html", html)

	if e.chart && len(records) > 0 {
		png, err := chart.RenderDiscounts(records, chart.Options{})
		if err != nil {
			log.WithError(err).Warn("could not render chart for email, sending without it")
		} else {
			m.Attach("discounts.png", gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(png)
				return err
			}))
		}
	}

	if err := e.sender.DialAndSend(m); err != nil {
		return errors.Wrapf(err, "could not send mail to %s", strings.Join(e.to, ","))
	}
	log.WithField("to", e.to).Info("alert mail sent")
	return nil
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: Arial, sans-serif; color: #333;">
<h2 style="color: #c0392b;">{{.Title}}</h2>
<pre style="font-family: inherit; white-space: pre-wrap;">{{.Body}}</pre>
{{- if .Rows}}
<table style="border-collapse: collapse; width: 100%;">
<thead>
<tr style="background: #f2f2f2;">
<th style="border: 1px solid #ddd; padding: 8px;">{{.Labels.Name}}</th>
<th style="border: 1px solid #ddd; padding: 8px;">{{.Labels.Code}}</th>
<th style="border: 1px solid #ddd; padding: 8px;">{{.Labels.Rate}}</th>
<th style="border: 1px solid #ddd; padding: 8px;">{{.Labels.Price}}</th>
<th style="border: 1px solid #ddd; padding: 8px;">{{.Labels.Valuation}}</th>
<th style="border: 1px solid #ddd; padding: 8px;">{{.Labels.Change}}</th>
</tr>
</thead>
<tbody>
{{- range .Rows}}
<tr>
<td style="border: 1px solid #ddd; padding: 8px;">{{.Name}}</td>
<td style="border: 1px solid #ddd; padding: 8px;">{{.Code}}</td>
<td style="border: 1px solid #ddd; padding: 8px; color: {{.Color}};">{{.Rate}}</td>
<td style="border: 1px solid #ddd; padding: 8px;">¥{{.Price}}</td>
<td style="border: 1px solid #ddd; padding: 8px;">¥{{.Valuation}}</td>
<td style="border: 1px solid #ddd; padding: 8px;">{{.Change}}</td>
</tr>
{{- end}}
</tbody>
</table>
{{- end}}
<p style="color: #888; font-size: 12px;">{{.Footer}}</p>
</body>
</html>`))

type emailRow struct {
	Name, Code, Rate, Color, Price, Valuation, Change string
}

func renderEmailHTML(title, body string, records []types.FundRecord, at time.Time, loc *time.Location) (string, error) {
	rows := make([]emailRow, 0, len(records))
	for _, r := range records {
		color := "#28a745"
		if r.DiscountRate.IsPositive() {
			color = "#dc3545"
		}
		rows = append(rows, emailRow{
			Name:      r.Name,
			Code:      r.Code,
			Rate:      alert.RateLabel(r),
			Color:     color,
			Price:     helpers.FormatPrice(r.MarketPrice, false),
			Valuation: helpers.FormatPrice(r.Valuation, false),
			Change:    helpers.FormatPercent(r.PriceChangePct, true),
		})
	}

	data := map[string]any{
		"Title": title,
		"Body":  body,
		"Rows":  rows,
		"Labels": map[string]string{
			"Name":      translation.Translate("Fund"),
			"Code":      translation.Translate("Code"),
			"Rate":      translation.Translate("Premium/discount"),
			"Price":     translation.Translate("Market price"),
			"Valuation": translation.Translate("Valuation"),
			"Change":    translation.Translate("Change"),
		},
		"Footer": translation.Translate("Sent at: %s", helpers.FormatDate(at, loc)),
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", errors.Wrap(err, "could not render mail")
	}
	return buf.String(), nil
}
