package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/deployproof/internal/verification/domain"
)

// Color styles for text output
var (
	matchStyle     = color.New(color.FgGreen, color.Bold)
	mismatchStyle  = color.New(color.FgRed, color.Bold)
	selectionStyle = color.New(color.FgYellow, color.Bold)
	errorStyle     = color.New(color.FgRed)
	labelStyle     = color.New(color.Faint)
	warningStyle   = color.New(color.FgYellow)
)

// resolveOutput picks the report format: flag, DEPLOYPROOF_OUTPUT, project
// file, then text on a terminal and json otherwise.
func resolveOutput(project *ProjectConfig, out io.Writer) (string, error) {
	format := output
	if format == "" {
		format = os.Getenv("DEPLOYPROOF_OUTPUT")
	}
	if format == "" && project != nil {
		format = project.Output
	}
	if format == "" {
		format = "json"
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "text"
		}
	}

	switch format {
	case "text", "json", "yaml":
		return format, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text, json or yaml)", format)
	}
}

// renderer writes verification results in one output format
type renderer struct {
	out    io.Writer
	format string
}

func newRenderer(out io.Writer, format string) *renderer {
	return &renderer{out: out, format: format}
}

// Result renders a single verification.
func (r *renderer) Result(res *domain.VerifyResult) error {
	switch r.format {
	case "json", "yaml":
		return r.encode(res)
	}

	r.headline(res)
	r.field("tx", res.TxHash)
	r.field("address", res.Address)
	if res.Repository != "" {
		source := res.Repository
		if res.Revision != "" {
			source += " @ " + res.Revision
		}
		if res.ResolvedRevision != "" {
			source += " (" + res.ResolvedRevision + ")"
		}
		r.field("source", source)
	}
	if res.Builder != "" {
		builder := res.Builder
		if res.ToolchainVersion != "" {
			builder += " (" + res.ToolchainVersion + ")"
		}
		r.field("builder", builder)
	}
	if res.Stage != "" {
		r.field("stage", string(res.Stage))
	}
	if res.Error != "" {
		r.field("error", errorStyle.Sprint(res.Error))
	}

	if d := res.Details; d != nil {
		if d.CreationMethod != "" {
			r.field("creation", fmt.Sprintf("%s at trace [%s]", d.CreationMethod, d.TracePosition))
		}
		r.field("marker", d.MetadataMarker)
		r.field("on-chain", hashLine(d.OnChainHash, d.OnChainStripped))
		r.field("built", hashLine(d.BuiltHash, d.BuiltStripped))
		if d.OnChain != "" || d.Built != "" {
			fmt.Fprintln(r.out)
			labelStyle.Fprintln(r.out, "  normalized on-chain bytecode:")
			fmt.Fprintf(r.out, "    %s\n", d.OnChain)
			labelStyle.Fprintln(r.out, "  normalized built bytecode:")
			fmt.Fprintf(r.out, "    %s\n", d.Built)
		}
	}

	for _, w := range res.Warnings {
		warningStyle.Fprintf(r.out, "  ⚠ %s\n", w)
	}

	if res.ID != "" {
		r.field("id", res.ID)
	}
	r.field("duration", fmt.Sprintf("%dms", res.DurationMS))
	return nil
}

func (r *renderer) headline(res *domain.VerifyResult) {
	switch res.Outcome {
	case domain.OutcomeMatch:
		matchStyle.Fprintf(r.out, "✓ match")
	case domain.OutcomeMismatch:
		mismatchStyle.Fprintf(r.out, "✗ mismatch")
	case domain.OutcomeNotFound, domain.OutcomeAmbiguous:
		selectionStyle.Fprintf(r.out, "? %s", res.Outcome)
	default:
		mismatchStyle.Fprintf(r.out, "! %s", res.Outcome)
	}
	fmt.Fprintf(r.out, "  %s\n", res.Contract)
	if res.Message != "" {
		fmt.Fprintf(r.out, "  %s\n", res.Message)
	}
}

func (r *renderer) field(label, value string) {
	if value == "" {
		return
	}
	labelStyle.Fprintf(r.out, "  %-10s", label)
	fmt.Fprintf(r.out, " %s\n", value)
}

func hashLine(hash string, stripped bool) string {
	if hash == "" {
		return ""
	}
	if stripped {
		return "keccak " + hash + " (metadata stripped)"
	}
	return "keccak " + hash
}

// Page renders a page of audit records.
func (r *renderer) Page(page *domain.ListResult) error {
	switch r.format {
	case "json", "yaml":
		return r.encode(page)
	}

	if len(page.Data) == 0 {
		fmt.Fprintln(r.out, "No verifications found")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Created", "Outcome", "Contract", "Address", "Tx", "Stage"})
	for _, v := range page.Data {
		t.AppendRow(table.Row{
			v.ID,
			v.CreatedAt,
			styledOutcome(v.Outcome),
			v.Contract,
			shorten(v.Address),
			shorten(v.TxHash),
			string(v.Stage),
		})
	}
	t.Render()

	if page.HasMore {
		fmt.Fprintf(r.out, "\nMore results: --cursor %s\n", page.NextCursor)
	}
	return nil
}

func styledOutcome(o domain.Outcome) string {
	switch o {
	case domain.OutcomeMatch:
		return matchStyle.Sprint(o)
	case domain.OutcomeMismatch, domain.OutcomeError:
		return mismatchStyle.Sprint(o)
	default:
		return selectionStyle.Sprint(o)
	}
}

// shorten keeps the first and last four hex digits of a 0x value.
func shorten(hex string) string {
	if len(hex) <= 14 {
		return hex
	}
	return hex[:6] + "…" + hex[len(hex)-4:]
}

func (r *renderer) encode(v any) error {
	if r.format == "yaml" {
		data, err := marshalYAML(v)
		if err != nil {
			return err
		}
		_, err = r.out.Write(data)
		return err
	}

	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// marshalYAML renders v with its JSON field names and order.
func marshalYAML(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	blockStyle(&node)
	return yaml.Marshal(&node)
}

// blockStyle clears the flow and quoting styles left by parsing JSON.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
