// Package printer renders Applications for the command line as a table, YAML
// or JSON, and decodes manifests passed to create.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"sigs.k8s.io/yaml"

	"github.com/lexfrei/application-operator/api/v1alpha1"
	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/gateway"
)

// Format is an output format name.
type Format string

// Supported output formats.
const (
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
	FormatJSON  Format = "json"
)

const (
	maxMessageWidth = 60
	none            = "<none>"
)

// ErrUnknownFormat is returned for an output format Print does not support.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat validates a user-supplied format. Empty selects the table.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatTable:
		return FormatTable, nil
	case FormatYAML, FormatJSON:
		return Format(value), nil
	default:
		return "", errors.Wrapf(ErrUnknownFormat, "%q (expected table, yaml or json)", value)
	}
}

// Print writes one resource to w.
func Print(w io.Writer, format Format, resource domain.ManagedResource) error {
	return write(w, format, []domain.ManagedResource{resource}, gateway.ToApplication(resource))
}

// PrintList writes resources to w. YAML and JSON output is an ApplicationList.
func PrintList(w io.Writer, format Format, resources []domain.ManagedResource) error {
	list := &v1alpha1.ApplicationList{}
	list.APIVersion = v1alpha1.GroupVersion.String()
	list.Kind = v1alpha1.Kind + "List"

	for _, resource := range resources {
		list.Items = append(list.Items, *gateway.ToApplication(resource))
	}

	return write(w, format, resources, list)
}

func write(w io.Writer, format Format, resources []domain.ManagedResource, obj any) error {
	switch format {
	case FormatTable, "":
		return printTable(w, resources)
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return errors.Wrap(err, "failed to encode yaml")
		}

		_, err = w.Write(data)

		return errors.Wrap(err, "failed to write output")
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to encode json")
		}

		_, err = fmt.Fprintln(w, string(data))

		return errors.Wrap(err, "failed to write output")
	default:
		return errors.Wrapf(ErrUnknownFormat, "%q", format)
	}
}

func printTable(w io.Writer, resources []domain.ManagedResource) error {
	if len(resources) == 0 {
		_, err := fmt.Fprintln(w, "No applications found")

		return errors.Wrap(err, "failed to write output")
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.Style().Options.DrawBorder = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.SeparateHeader = false
	tw.Style().Format.Header = text.FormatUpper
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "MESSAGE", WidthMax: maxMessageWidth},
	})

	tw.AppendHeader(table.Row{"NAMESPACE", "NAME", "STATE", "REPLICAS", "IMAGE", "PORT", "GENERATION", "OBSERVED", "RECONCILED", "MESSAGE"})

	for _, r := range resources {
		tw.AppendRow(table.Row{
			r.Namespace,
			r.Name,
			r.Status.State,
			r.Spec.Replicas,
			r.Spec.Image,
			r.Spec.Port,
			r.Generation,
			observed(r.Status),
			reconciledAt(r.Status),
			r.Status.Message,
		})
	}

	tw.Render()

	return nil
}

func observed(status domain.ResourceStatus) string {
	generation, ok := status.Generation()
	if !ok {
		return none
	}

	return strconv.FormatInt(generation, 10)
}

func reconciledAt(status domain.ResourceStatus) string {
	if status.LastReconciledAt == nil {
		return none
	}

	return status.LastReconciledAt.UTC().Format(time.RFC3339)
}
