package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var templates = map[Kind]*template.Template{}

func init() {
	funcMap := template.FuncMap{
		"title": titleCase,
		"safeHTML": func(s string) template.HTML {
			return template.HTML(s)
		},
	}
	templates[KindApplicationForm] = template.Must(template.New(string(KindApplicationForm)).Funcs(funcMap).Parse(applicationFormTemplate))
	templates[KindResearchProtocol] = template.Must(template.New(string(KindResearchProtocol)).Funcs(funcMap).Parse(researchProtocolTemplate))
	templates[KindConsentForm] = template.Must(template.New(string(KindConsentForm)).Funcs(funcMap).Parse(consentFormTemplate))
}

// titleCase turns a snake_case section name into a heading. Section names are
// plain ASCII, so capitalizing the first byte of each word is enough.
func titleCase(s string) string {
	words := strings.Split(strings.ReplaceAll(s, "_", " "), " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func buildHTML(kind Kind, data SubmissionData) (string, error) {
	tpl, ok := templates[kind]
	if !ok {
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const baseStyle = `<style>
body { font-family: Georgia, serif; margin: 0; color: #1a1a1a; }
h1 { font-size: 20px; margin-bottom: 2px; }
h2 { font-size: 15px; border-bottom: 1px solid #999; padding-bottom: 4px; margin-top: 24px; }
.meta { color: #555; font-size: 12px; margin-bottom: 20px; }
table { width: 100%; border-collapse: collapse; font-size: 13px; }
td, th { border: 1px solid #bbb; padding: 6px 8px; text-align: left; vertical-align: top; }
.bilingual td { width: 50%; }
.section { font-size: 13px; line-height: 1.5; }
.signature img { max-height: 60px; }
</style>`

const applicationFormTemplate = `<!DOCTYPE html>
<html><head><meta charset="UTF-8"><title>{{.Code}}</title>` + baseStyle + `</head>
<body>
<h1>Application for Ethics Review</h1>
<div class="meta">{{.Code}} &middot; {{.SubmittedAt.Format "January 2, 2006"}}</div>
<table>
<tr><th>Study Title</th><td>{{.Title}}</td></tr>
<tr><th>Principal Investigator</th><td>{{.OwnerName}}</td></tr>
<tr><th>Study Site</th><td>{{.Form.StudySite}}</td></tr>
<tr><th>Funding Source</th><td>{{.Form.FundingSource}}</td></tr>
<tr><th>Duration</th><td>{{.Form.DurationMonths}} months</td></tr>
<tr><th>Contact</th><td>{{.Form.ContactEmail}}</td></tr>
{{if .Category}}<tr><th>Review Category</th><td>{{.Category}}</td></tr>{{end}}
</table>
<h2>Research Team</h2>
<table>
{{range .Researchers}}<tr><td>{{.Name}}</td><td class="signature">{{if .SignatureURL}}<img src="{{.SignatureURL}}" alt="signature">{{end}}</td></tr>{{end}}
</table>
</body></html>`

const researchProtocolTemplate = `<!DOCTYPE html>
<html><head><meta charset="UTF-8"><title>{{.Code}}</title>` + baseStyle + `</head>
<body>
<h1>{{.Title}}</h1>
<div class="meta">Research Protocol &middot; {{.Code}}</div>
{{range .Sections}}
<h2>{{title .Name}}</h2>
<div class="section">{{safeHTML .HTML}}</div>
{{end}}
<h2>Researchers</h2>
<table>
{{range .Researchers}}<tr><td>{{.Name}}</td><td class="signature">{{if .SignatureURL}}<img src="{{.SignatureURL}}" alt="signature">{{end}}</td></tr>{{end}}
</table>
</body></html>`

const consentFormTemplate = `<!DOCTYPE html>
<html><head><meta charset="UTF-8"><title>{{.Code}}</title>` + baseStyle + `</head>
<body>
<h1>Informed Consent Form</h1>
<div class="meta">{{.Title}} &middot; {{.Code}}</div>
<table class="bilingual">
<tr><th>English</th><th>Filipino</th></tr>
<tr><td>{{.Consent.PurposeEN}}</td><td>{{.Consent.PurposeFIL}}</td></tr>
<tr><td>{{.Consent.ProceduresEN}}</td><td>{{.Consent.ProceduresFIL}}</td></tr>
<tr><td>{{.Consent.RisksEN}}</td><td>{{.Consent.RisksFIL}}</td></tr>
<tr><td>{{.Consent.BenefitsEN}}</td><td>{{.Consent.BenefitsFIL}}</td></tr>
<tr><td>{{.Consent.ConfidentialityEN}}</td><td>{{.Consent.ConfidentialityFIL}}</td></tr>
</table>
</body></html>`
