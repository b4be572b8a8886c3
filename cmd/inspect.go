package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/grafana/webcat/common"
)

type formField struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type formReport struct {
	ID      string      `yaml:"id,omitempty"`
	Method  string      `yaml:"method"`
	Action  string      `yaml:"action"`
	Enctype string      `yaml:"enctype"`
	Fields  []formField `yaml:"fields"`
}

type inspectCmd struct {
	root *rootCommand
}

func (c *inspectCmd) run(cmd *cobra.Command, args []string) (err error) {
	s, err := c.root.openSession(cmd, args[0])
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	forms, err := s.FindAll("form")
	if err != nil {
		return err
	}
	reports := make([]formReport, 0, len(forms))
	for _, form := range forms {
		sub, err := common.NewFormSubmission(form, nil)
		if err != nil {
			return errors.Wrapf(err, "serializing %s", form)
		}
		r := formReport{
			ID:      form.ID(),
			Method:  sub.Method,
			Action:  sub.Action.String(),
			Enctype: sub.Enctype,
			Fields:  make([]formField, 0, len(sub.Data.Fields)),
		}
		for _, f := range sub.Data.Fields {
			r.Fields = append(r.Fields, formField{Name: f.Name, Value: f.Value})
		}
		reports = append(reports, r)
	}

	out, err := yaml.Marshal(map[string]any{"forms": reports})
	if err != nil {
		return errors.Wrap(err, "encoding forms")
	}
	c.root.printf("%s", out)
	return nil
}

func getCmdInspect(root *rootCommand) *cobra.Command {
	c := &inspectCmd{root: root}
	return &cobra.Command{
		Use:   "inspect URL",
		Short: "Print the payload every form of a page would submit",
		Long: `Print the payload every form of a page would submit, as YAML.

Fields are listed in document order, the way the form would be submitted
without pressing a button.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}
}
