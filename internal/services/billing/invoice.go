package billing

import (
	"html/template"
	"time"

	"subscription-service/internal/domain"
)

// invoiceData feeds the invoice HTML template
type invoiceData struct {
	Subscription *domain.Subscription
	Plan         *domain.Plan
	User         *domain.User
	Transactions []*domain.Transaction
	GeneratedAt  time.Time
}

var invoiceTemplate = template.Must(template.New("invoice").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.Format("2006-01-02") },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: sans-serif; margin: 40px; color: #222; }
  h1 { font-size: 20px; border-bottom: 2px solid #222; padding-bottom: 8px; }
  table { width: 100%; border-collapse: collapse; margin-top: 16px; }
  th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #ccc; font-size: 12px; }
  .meta { margin-top: 12px; font-size: 12px; }
  .meta div { margin: 2px 0; }
  .failed { color: #a00; }
</style>
</head>
<body>
<h1>Invoice</h1>
<div class="meta">
  <div>Subscription: {{.Subscription.ID}}</div>
  <div>Customer: {{.User.Email}}</div>
  <div>Plan: {{.Plan.Name}} ({{.Plan.Price}})</div>
  <div>Period: {{date .Subscription.CurrentPeriodStart}} to {{date .Subscription.CurrentPeriodEnd}}</div>
  <div>Generated: {{date .GeneratedAt}}</div>
</div>
<table>
  <tr><th>Date</th><th>Transaction</th><th>Type</th><th>Description</th><th>Amount</th><th>Status</th></tr>
  {{range .Transactions}}
  <tr{{if eq .Status "failed"}} class="failed"{{end}}>
    <td>{{date .CreatedAt}}</td>
    <td>{{.ID}}</td>
    <td>{{.Type}}</td>
    <td>{{.Description}}</td>
    <td>{{.Amount}}</td>
    <td>{{.Status}}</td>
  </tr>
  {{end}}
</table>
</body>
</html>`))
