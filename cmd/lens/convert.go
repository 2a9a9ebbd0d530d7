package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/InflationLens/internal/domain/annotator"
	"github.com/GriffinCanCode/InflationLens/internal/domain/document"
	"github.com/GriffinCanCode/InflationLens/internal/domain/inflation"
	"github.com/GriffinCanCode/InflationLens/internal/domain/scanner"
	"github.com/GriffinCanCode/InflationLens/internal/shared/types"
)

// printer renders a result as text, json or yaml.
type printer struct {
	format string
}

func (p *printer) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.format, "output", "text", "Output format: text, json or yaml")
}

func (p *printer) validate() error {
	switch p.format {
	case "text", "json", "yaml":
		return nil
	}
	return fmt.Errorf("unknown --output %q", p.format)
}

// print writes v as structured data, or calls text for the text format.
func (p *printer) print(w io.Writer, v any, text func(io.Writer) error) error {
	switch p.format {
	case "json":
		data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return text(w)
	}
}

func newConvertCmd(a *app) *cobra.Command {
	var p printer
	cmd := &cobra.Command{
		Use:   "convert AMOUNT FROM [TO]",
		Short: "Convert an amount between years",
		Long: `Convert adjusts AMOUNT from year FROM to year TO, which defaults to the
current year. AMOUNT accepts the same forms found on pages: 100, $1,250,
1.5M or $2 billion. A TO past the last CPI year uses the latest data.

Examples:
  lens convert 100 1970
  lens convert '$1.5M' 1985 2000 --output json`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := p.validate(); err != nil {
				return err
			}
			amount := inflation.ParseAmount(args[0])
			if math.IsNaN(amount) {
				return fmt.Errorf("%q is not a price", args[0])
			}
			from, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("FROM must be a year: %w", err)
			}

			calc, err := a.calculator(cmd.Context())
			if err != nil {
				return err
			}
			to := calc.CurrentYear()
			if len(args) == 3 {
				if to, err = strconv.Atoi(args[2]); err != nil {
					return fmt.Errorf("TO must be a year: %w", err)
				}
			}
			if err := calc.ValidateYear(from); err != nil {
				return err
			}
			adjusted, ok := calc.Convert(amount, from, to)
			if !ok {
				return fmt.Errorf("no CPI data to convert %d to %d", from, to)
			}
			effective, _ := calc.EffectiveYear(to)

			resp := types.ConvertResponse{
				Amount:        amount,
				From:          from,
				To:            to,
				EffectiveYear: effective,
				Adjusted:      adjusted,
				Formatted:     calc.FormatAmount(adjusted),
			}
			return p.print(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				suffix := ""
				if effective != to {
					suffix = fmt.Sprintf(" (using %d CPI)", effective)
				}
				_, err := fmt.Fprintf(w, "%s in %d is %s in %d%s\n",
					calc.FormatAmount(amount), from, resp.Formatted, to, suffix)
				return err
			})
		},
	}
	p.register(cmd)
	return cmd
}

// found is one price located by scan.
type found struct {
	Raw      string  `json:"raw"`
	Token    string  `json:"token"`
	Amount   float64 `json:"amount"`
	Rule     string  `json:"rule"`
	Adjusted string  `json:"adjusted,omitempty"`
}

func newScanCmd(a *app) *cobra.Command {
	var (
		p    printer
		text string
		year int
	)
	cmd := &cobra.Command{
		Use:   "scan [file|url|-]",
		Short: "List the prices a document contains",
		Long: `Scan reports every price token the annotator would mark, without
changing anything. Text inside scripts, styles, code blocks and opted-out
elements is skipped. With --year each price is also converted.

Examples:
  lens scan page.html
  lens scan --text 'Was $5.99, now $4 million' --year 1990`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := p.validate(); err != nil {
				return err
			}
			var calc *inflation.Calculator
			if year != 0 {
				var err error
				if calc, err = a.calculator(cmd.Context()); err != nil {
					return err
				}
				if err := calc.ValidateYear(year); err != nil {
					return err
				}
			}

			var texts []string
			if text != "" {
				texts = []string{text}
			} else {
				input := stdinArg
				if len(args) == 1 {
					input = args[0]
				}
				raw, contentType, _, err := a.read(cmd.Context(), input, cmd.InOrStdin())
				if err != nil {
					return err
				}
				doc, err := document.Parse(raw, contentType)
				if err != nil {
					return err
				}
				texts = proseText(document.Body(doc))
			}

			results := scanTexts(scanner.New(), texts, calc, year)
			return p.print(cmd.OutOrStdout(), results, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				header := "PRICE\tAMOUNT\tRULE"
				if calc != nil {
					header += "\tADJUSTED"
				}
				fmt.Fprintln(tw, header)
				for _, f := range results {
					line := fmt.Sprintf("%s\t%s\t%s", f.Raw, strconv.FormatFloat(f.Amount, 'f', -1, 64), f.Rule)
					if calc != nil {
						line += "\t" + f.Adjusted
					}
					fmt.Fprintln(tw, line)
				}
				return tw.Flush()
			})
		},
	}
	p.register(cmd)
	cmd.Flags().StringVar(&text, "text", "", "Scan this text instead of a document")
	cmd.Flags().IntVarP(&year, "year", "y", 0, "Also convert each price from this year")
	return cmd
}

func scanTexts(s *scanner.Scanner, texts []string, calc *inflation.Calculator, year int) []found {
	results := []found{}
	for _, t := range texts {
		for m := range s.Scan(t) {
			f := found{
				Raw:    m.Raw,
				Token:  m.Token,
				Amount: inflation.ParseAmount(m.Token),
				Rule:   m.Rule,
			}
			if calc != nil {
				if v, _, ok := calc.Adjust(f.Amount, year); ok {
					f.Adjusted = calc.FormatAmount(v)
				}
			}
			results = append(results, f)
		}
	}
	return results
}

// proseText collects the text nodes the annotator would visit.
func proseText(root *html.Node) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if strings.TrimSpace(n.Data) != "" && !annotator.ShouldSkip(n) {
				out = append(out, n.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return out
}

// bounds describes the loaded dataset.
type bounds struct {
	Source        string `json:"source"`
	Years         int    `json:"years"`
	Min           int    `json:"min"`
	Max           int    `json:"max"`
	CurrentYear   int    `json:"currentYear"`
	EffectiveYear int    `json:"effectiveYear"`
}

func newBoundsCmd(a *app) *cobra.Command {
	var p printer
	cmd := &cobra.Command{
		Use:   "bounds",
		Short: "Show the years covered by the CPI dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := p.validate(); err != nil {
				return err
			}
			calc, err := a.calculator(cmd.Context())
			if err != nil {
				return err
			}
			lo, hi, ok := calc.Bounds()
			if !ok {
				return errors.New("CPI dataset is empty")
			}
			src, err := a.source()
			if err != nil {
				return err
			}
			effective, _ := calc.EffectiveYear(calc.CurrentYear())
			b := bounds{
				Source:        src.String(),
				Years:         calc.Table().Len(),
				Min:           lo,
				Max:           hi,
				CurrentYear:   calc.CurrentYear(),
				EffectiveYear: effective,
			}
			return p.print(cmd.OutOrStdout(), b, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "source:    %s\nyears:     %d (%d-%d)\nconverts:  to %d CPI for %d\n",
					b.Source, b.Years, b.Min, b.Max, b.EffectiveYear, b.CurrentYear)
				return err
			})
		},
	}
	p.register(cmd)
	return cmd
}
