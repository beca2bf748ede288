package applet

import (
	"bytes"
	"text/template"
)

// Event-driven applet configurations pushed to devices. Each applet is
// triggered explicitly with "event manager run" unless it carries a cron
// timer.

var cleanFlashTemplate = template.Must(template.New("clean_flash").Parse(
	`event manager applet CLEAN_FLASH
 event none
 action 1.0 cli command "enable"
 action 2.0 syslog msg "Removing inactive packages from flash"
 action 3.0 cli command "install remove inactive" pattern "y/n"
 action 4.0 cli command "y"
 action 5.0 syslog msg "Inactive packages removed"
`))

var downloadTemplate = template.Must(template.New("ios_download").Parse(
	`event manager applet CopyIOSImage
 event none
 action 1.0 cli command "enable"
 action 2.0 syslog msg "Starting IOS image download"
 action 3.0 cli command "copy {{ .FileServerURL }}/{{ .Filename }} flash:{{ .Filename }}"
 action 4.0 syslog msg "IOS image download finished"
`))

var installTemplate = template.Must(template.New("ios_install").Parse(
	`no event manager applet InstallIOSImage
event manager applet InstallIOSImage
{{- if .Schedule }}
 event timer cron name InstallIOSImage cron-entry "{{ .Schedule }}"
{{- else }}
 event none
{{- end }}
 action 1.0 cli command "enable"
 action 2.0 syslog msg "Starting IOS image installation"
 action 3.0 cli command "install add file flash:{{ .Filename }} activate commit prompt-level none"
 action 4.0 syslog msg "IOS image installation finished"
`))

type downloadParams struct {
	FileServerURL string
	Filename      string
}

type installParams struct {
	Filename string
	Schedule string // applet cron expression; empty means manual trigger
}

func renderLines(tmpl *template.Template, data any) ([]string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return splitConfigLines(buf.String()), nil
}

func splitConfigLines(rendered string) []string {
	var lines []string
	for _, line := range bytes.Split([]byte(rendered), []byte("\n")) {
		if trimmed := bytes.TrimRight(line, " \r"); len(bytes.TrimSpace(trimmed)) > 0 {
			lines = append(lines, string(trimmed))
		}
	}
	return lines
}
