package render

import (
	"strings"
	"testing"
	"time"
)

func sampleData() SubmissionData {
	return SubmissionData{
		Code:        "ERB-2006-000001",
		Title:       "Community Health Study",
		Status:      "under_review",
		OwnerName:   "A Researcher",
		Category:    "expedited",
		SubmittedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Form: FormData{
			StudySite:      "Barangay Health Center",
			FundingSource:  "Institutional",
			DurationMonths: 6,
			ContactEmail:   "owner@example.test",
		},
		Sections: []SectionData{
			{Name: "methodology", HTML: `<p>Mixed methods with <img src="http://blobs.test/x.png"></p>`},
		},
		Researchers: []ResearcherData{
			{Name: "A Researcher", SignatureURL: "http://blobs.test/sig.png"},
		},
		Consent: ConsentData{
			PurposeEN:  "We study community health.",
			PurposeFIL: "Pinag-aaralan namin ang kalusugan ng komunidad.",
		},
	}
}

func TestBuildApplicationFormHTML(t *testing.T) {
	html, err := buildHTML(KindApplicationForm, sampleData())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, want := range []string{"ERB-2006-000001", "Community Health Study", "Barangay Health Center", "6 months", "March 14, 2026"} {
		if !strings.Contains(html, want) {
			t.Fatalf("missing %q in application form html", want)
		}
	}
}

func TestBuildProtocolHTMLKeepsRichText(t *testing.T) {
	html, err := buildHTML(KindResearchProtocol, sampleData())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// section content goes through safeHTML, so tags must survive unescaped
	if !strings.Contains(html, `<img src="http://blobs.test/x.png">`) {
		t.Fatalf("rich text was escaped:\n%s", html)
	}
	if !strings.Contains(html, "Methodology") {
		t.Fatalf("section heading missing")
	}
	if !strings.Contains(html, "http://blobs.test/sig.png") {
		t.Fatalf("researcher signature missing")
	}
}

func TestTitleCase(t *testing.T) {
	cases := map[string]string{
		"methodology":            "Methodology",
		"data_management":        "Data Management",
		"ethical_considerations": "Ethical Considerations",
		"":                       "",
	}
	for in, want := range cases {
		if got := titleCase(in); got != want {
			t.Fatalf("titleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildConsentFormHTMLIsBilingual(t *testing.T) {
	html, err := buildHTML(KindConsentForm, sampleData())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !strings.Contains(html, "We study community health.") {
		t.Fatalf("english column missing")
	}
	if !strings.Contains(html, "Pinag-aaralan namin ang kalusugan ng komunidad.") {
		t.Fatalf("filipino column missing")
	}
}

func TestBuildHTMLUnknownKind(t *testing.T) {
	if _, err := buildHTML(Kind("budget"), sampleData()); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
