package plan

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// dockerfileTemplate renders a BuildPlan into a Dockerfile. The template
// consumes pre-shaped data from renderData; all merging and ordering has
// already happened in the planner.
var dockerfileTemplate = template.Must(
	template.New("Dockerfile").Funcs(sprig.TxtFuncMap()).Parse(`# Generated by pipecrate. Do not edit.
FROM {{ .BaseImage }}
{{- range .Labels }}
LABEL {{ .Key | quote }}={{ .Value | quote }}
{{- end }}
{{- if .AptPackages }}

RUN apt-get update \
    && apt-get install -y --no-install-recommends {{ .AptPackages | join " " }} \
    && rm -rf /var/lib/apt/lists/*
{{- end }}
{{- if .PipPackages }}

RUN pip install --no-cache-dir {{ range $i, $p := .PipPackages }}{{ if $i }} {{ end }}{{ $p | squote }}{{ end }}
{{- end }}
{{- if .Embeds }}
{{ range .Embeds }}
COPY {{ .Source }} {{ .Dest }}
{{- end }}
{{- end }}
{{- if .LicenseDirs }}

RUN mkdir -p {{ .LicenseDirs | join " " }}
{{- end }}

ENTRYPOINT [{{ range $i, $c := .Entrypoint }}{{ if $i }}, {{ end }}{{ $c | quote }}{{ end }}]
`))

type renderLabel struct {
	Key, Value string
}

type renderEmbed struct {
	Source, Dest string
}

type renderData struct {
	BaseImage   string
	Labels      []renderLabel
	AptPackages []string
	PipPackages []string
	Embeds      []renderEmbed
	LicenseDirs []string
	Entrypoint  []string
}

// Render produces the Dockerfile text for the plan.
func Render(p *BuildPlan) ([]byte, error) {
	data := renderData{}

	for _, step := range p.Steps {
		switch step.Kind {
		case StepBaseImage:
			data.BaseImage = step.BaseImage

		case StepPackages:
			for _, pkg := range step.Packages {
				switch step.Manager {
				case "apt":
					if pkg.Version != "" {
						data.AptPackages = append(data.AptPackages, pkg.Name+"="+pkg.Version)
					} else {
						data.AptPackages = append(data.AptPackages, pkg.Name)
					}
				case "pip":
					if pkg.Version != "" {
						data.PipPackages = append(data.PipPackages, pkg.Name+"=="+pkg.Version)
					} else {
						data.PipPackages = append(data.PipPackages, pkg.Name)
					}
				default:
					return nil, &Error{Reason: fmt.Sprintf("no renderer for package manager %q", step.Manager)}
				}
			}

		case StepEmbedFile, StepCopyBinary:
			data.Embeds = append(data.Embeds, renderEmbed{Source: step.Source, Dest: step.Dest})

		case StepLicenseDir:
			data.LicenseDirs = append(data.LicenseDirs, step.Dest)

		case StepEntrypoint:
			data.Entrypoint = step.Command
		}
	}

	for key, value := range p.Labels {
		data.Labels = append(data.Labels, renderLabel{Key: key, Value: value})
	}
	sort.Slice(data.Labels, func(i, j int) bool { return data.Labels[i].Key < data.Labels[j].Key })
	sort.Strings(data.LicenseDirs)
	data.LicenseDirs = dedupe(data.LicenseDirs)

	var buf bytes.Buffer
	if err := dockerfileTemplate.Execute(&buf, data); err != nil {
		return nil, &Error{Reason: fmt.Sprintf("rendering Dockerfile: %v", err)}
	}
	return buf.Bytes(), nil
}

func dedupe(in []string) []string {
	out := in[:0]
	var prev string
	for i, s := range in {
		if i == 0 || s != prev {
			out = append(out, s)
		}
		prev = s
	}
	return out
}
