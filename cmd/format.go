package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/search"
)

// Define styles using lipgloss
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1).
			Margin(0, 0, 1, 0)

	nameStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	openStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("32"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("33"))

	noDataStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true).
			Margin(1, 0)
)

var titleCase = cases.Title(language.English)

// formatNumber formats a number with K/M suffixes for readability
func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	} else if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	} else {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
}

func formatPercent(p float64) string {
	return fmt.Sprintf("%.0f%%", p)
}

// location describes where an entity sits, for result listings.
func location(e core.Entity) string {
	if e.EntityType == core.Institution {
		return fmt.Sprintf("%s, %s", e.CountryName, e.Subregion)
	}
	return fmt.Sprintf("%s, %s", e.Subregion, e.Region)
}

// printEntities writes one page of a filter result as an aligned table.
func printEntities(w io.Writer, kind core.EntityType, env *search.Envelope[core.Entity]) {
	title := fmt.Sprintf("%s: %d matches, page %d (limit %d), by %s %s",
		titleCase.String(kind.Plural()), env.NItems, env.Page, env.Limit, env.OrderBy, env.OrderDir)
	fmt.Fprintln(w, titleStyle.Render(title))

	if len(env.Items) == 0 {
		fmt.Fprintln(w, noDataStyle.Render("No results on this page"))
		return
	}

	nameWidth := len("Name")
	for _, e := range env.Items {
		nameWidth = max(nameWidth, lipgloss.Width(e.Name))
	}
	cell := lipgloss.NewStyle().Width(nameWidth + 2)
	num := lipgloss.NewStyle().Width(10).Align(lipgloss.Right)

	fmt.Fprintln(w, headerStyle.Render(
		cell.Render("Name")+num.Render("Outputs")+num.Render("Open")+num.Render("Open %")+"  Location"))
	for _, e := range env.Items {
		fmt.Fprintln(w,
			cell.Render(e.Name)+
				num.Render(formatNumber(e.Stats.NOutputs))+
				num.Render(formatNumber(e.Stats.NOutputsOpen))+
				num.Render(openStyle.Render(formatPercent(e.Stats.POutputsOpen)))+
				"  "+metaStyle.Render(location(e)))
	}

	if env.Min != nil && env.Max != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, metaStyle.Render(fmt.Sprintf("Range over matches: outputs %s-%s, open %s-%s",
			formatNumber(env.Min.NOutputs), formatNumber(env.Max.NOutputs),
			formatPercent(env.Min.POutputsOpen), formatPercent(env.Max.POutputsOpen))))
	}
}

// printProjections writes search results, one entry per line.
func printProjections(w io.Writer, text string, env *search.Envelope[search.Projection]) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Search %q: %d matches", text, env.NItems)))
	if len(env.Items) == 0 {
		fmt.Fprintln(w, noDataStyle.Render("No results found"))
		return
	}

	for i, p := range env.Items {
		where := p.Subregion
		if p.CountryName != "" {
			where = p.CountryName
		}
		var tags []string
		tags = append(tags, string(p.EntityType))
		tags = append(tags, p.InstitutionTypes...)

		fmt.Fprintf(w, "%2d. %s %s\n", env.Page*env.Limit+i+1, nameStyle.Render(p.Name), metaStyle.Render("("+p.ID+")"))
		fmt.Fprintf(w, "    %s  %s open of %s outputs  %s\n",
			where,
			openStyle.Render(formatPercent(p.Stats.POutputsOpen)),
			formatNumber(p.Stats.NOutputs),
			metaStyle.Render(strings.Join(tags, ", ")))
	}
}
