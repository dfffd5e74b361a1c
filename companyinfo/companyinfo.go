// Package companyinfo renders the company profile served by the
// company_info tool. Rendering is a pure function of the selected category:
// the same category always yields the same text.
package companyinfo

import "strings"

// Category selects which section of the profile to render. It is a closed
// set; anything a client sends that is not one of the named selectors maps
// to CategoryAll.
type Category int

const (
	CategoryAll Category = iota
	CategoryOverview
	CategoryFocus
	CategoryContact
	CategoryInvestment
)

// ParseCategory maps a wire selector onto the closed category set. Empty and
// unrecognized values take the default branch (CategoryAll) rather than
// producing an error.
func ParseCategory(s string) Category {
	switch s {
	case "overview":
		return CategoryOverview
	case "focus":
		return CategoryFocus
	case "contact":
		return CategoryContact
	case "investment":
		return CategoryInvestment
	default:
		return CategoryAll
	}
}

// String returns the wire selector for the category.
func (c Category) String() string {
	switch c {
	case CategoryOverview:
		return "overview"
	case CategoryFocus:
		return "focus"
	case CategoryContact:
		return "contact"
	case CategoryInvestment:
		return "investment"
	default:
		return "all"
	}
}

// Args is the tool's input shape. The schema advertised in tools/list is
// reflected from this struct.
type Args struct {
	Category string `json:"category,omitempty" jsonschema:"enum=overview,enum=focus,enum=contact,enum=investment,enum=all,description=Profile section to return. Defaults to all."`
}

// Profile holds the company facts the tool formats. It is plain data so
// tests can construct fixtures with known contact strings.
type Profile struct {
	Name       string
	Tagline    string
	Founded    string
	Overview   string
	Focus      []string
	Website    string
	Email      string
	Investment string
}

// Default returns the profile this server ships with.
func Default() *Profile {
	return &Profile{
		Name:     "Brightwell Labs",
		Tagline:  "Applied machine intelligence for heavy industry.",
		Founded:  "2023",
		Overview: "Brightwell Labs builds inspection and predictive-maintenance software for industrial operators. Our models run on-site, next to the machines they watch, and surface faults days before they become downtime.",
		Focus: []string{
			"Acoustic and vibration anomaly detection for rotating equipment",
			"Edge deployment: inference on plant-floor hardware, no cloud dependency",
			"Operator-facing diagnostics that explain every alert",
		},
		Website:    "https://brightwell-labs.com",
		Email:      "hello@brightwell-labs.com",
		Investment: "Seed stage. We raised a $4.2M seed round in late 2024 led by Foreline Ventures and are not currently fundraising. Pilot partnerships are open to qualified industrial operators.",
	}
}

// Render formats the requested section. CategoryAll concatenates every
// section in a fixed order.
func (p *Profile) Render(c Category) string {
	switch c {
	case CategoryOverview:
		return p.renderOverview()
	case CategoryFocus:
		return p.renderFocus()
	case CategoryContact:
		return p.renderContact()
	case CategoryInvestment:
		return p.renderInvestment()
	default:
		sections := []string{
			p.renderOverview(),
			p.renderFocus(),
			p.renderContact(),
			p.renderInvestment(),
		}
		return strings.Join(sections, "\n\n")
	}
}

func (p *Profile) renderOverview() string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(p.Name)
	b.WriteString("\n")
	b.WriteString(p.Tagline)
	b.WriteString("\n\nFounded: ")
	b.WriteString(p.Founded)
	b.WriteString("\n\n")
	b.WriteString(p.Overview)
	return b.String()
}

func (p *Profile) renderFocus() string {
	var b strings.Builder
	b.WriteString("## Focus areas\n")
	for _, f := range p.Focus {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Profile) renderContact() string {
	var b strings.Builder
	b.WriteString("## Contact\n")
	b.WriteString("Website: ")
	b.WriteString(p.Website)
	b.WriteString("\nEmail: ")
	b.WriteString(p.Email)
	return b.String()
}

func (p *Profile) renderInvestment() string {
	return "## Investment\n" + p.Investment
}
